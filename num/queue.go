package num

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

const queueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dtype DataType, dims ...int) Array
	NewArrayLike(a Array) Array
}

// Initialise new CPU device
func NewDevice() Device {
	return cpuDevice{}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Asyncronous function call
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	PrintProfile()
}

type cpuDevice struct{}

type cpuQueue struct {
	cpuDevice
	buffer [queueSize]Function
	queued int
	*profile
}

func (d cpuDevice) NewQueue(threads int) Queue {
	setCPUThreads(threads)
	return &cpuQueue{
		cpuDevice: d,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) exec() {
	if q.profile.enabled {
		for _, f := range q.buffer[:q.queued] {
			start := time.Now()
			f.fn()
			q.profile.add(f.name, time.Since(start))
		}
	} else {
		for _, f := range q.buffer[:q.queued] {
			f.fn()
		}
	}
	q.queued = 0
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if q.queued >= queueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		q.PrintProfile()
	}
}

// number of worker threads used by the compute kernels
var cpuThreads = runtime.GOMAXPROCS(0)

// a thread count < 1 keeps the current setting
func setCPUThreads(threads int) {
	if threads >= 1 {
		cpuThreads = threads
	}
}

// split a loop of size n across the worker threads, th is the worker index
func parallel(n int, fn func(th, lo, hi int)) {
	nt := cpuThreads
	if nt > n {
		nt = n
	}
	if nt <= 1 {
		fn(0, 0, n)
		return
	}
	var wg sync.WaitGroup
	for i := 0; i < nt; i++ {
		lo, hi := i*n/nt, (i+1)*n/nt
		wg.Add(1)
		go func(th, lo, hi int) {
			fn(th, lo, hi)
			wg.Done()
		}(i, lo, hi)
	}
	wg.Wait()
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += elapsed.Seconds() * 1000
	p.prof[name] = r
}

func (p *profile) PrintProfile() {
	fmt.Println("== Profile ==")
	list := make([]profileRec, len(p.prof))
	i := 0
	for _, v := range p.prof {
		list[i] = v
		i++
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		fmt.Printf("%-25s %8d calls %10.1f msec\n", r.name, r.calls, r.msec)
		totalCalls += r.calls
		totalMsec += r.msec
	}
	fmt.Printf("%-25s %8d calls %10.1f msec\n", "TOTAL", totalCalls, totalMsec)
}
