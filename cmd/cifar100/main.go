// Convert the cifar-100 binary batches to gob data files using the
// fine grained 100 class labels.
package main

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"path"
	"strings"

	"github.com/StevenLOL/algorithms-1/img"
	"github.com/StevenLOL/algorithms-1/nnet"
)

const (
	imageWidth  = 32
	imageHeight = 32
	imageSize   = imageWidth * imageHeight
	// coarse label + fine label + rgb pixel data
	imageBytes = imageSize*3 + 2
)

func main() {
	classes, err := readClasses("fine_label_names.txt")
	nnet.CheckErr(err)
	if len(classes) != 100 {
		nnet.CheckErr(fmt.Errorf("expecting 100 classes, got %d", len(classes)))
	}
	train, err := loadBatch("train.bin", classes)
	nnet.CheckErr(err)
	test, err := loadBatch("test.bin", classes)
	nnet.CheckErr(err)

	mean, std := img.GetStats(train.Images, test.Images)
	train.Mean, train.StdDev = mean, std
	test.Mean, test.StdDev = mean, std

	err = nnet.SaveDataFile(train, "cifar100_train")
	nnet.CheckErr(err)
	err = nnet.SaveDataFile(test, "cifar100_test")
	nnet.CheckErr(err)
}

// load batch of cifar-100 images and labels in binary format
func loadBatch(name string, classes []string) (*img.Data, error) {
	pathName := path.Join(nnet.DataDir, "cifar-100", name)
	f, err := os.Open(pathName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels := make([]int32, 0, 10000)
	images := make([]img.Image, 0, 10000)
	bytes := make([]uint8, imageBytes)
	for {
		n, err := io.ReadFull(f, bytes)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading from %s: %s", pathName, err)
		}
		if n != imageBytes {
			return nil, fmt.Errorf("incomplete read: expected %d bytes got %d", imageBytes, n)
		}
		labels = append(labels, int32(bytes[1]))
		m := img.NewRGB(imageWidth, imageHeight)
		for j := 0; j < imageSize; j++ {
			col := color.NRGBA{R: bytes[2+j], G: bytes[2+imageSize+j], B: bytes[2+imageSize*2+j], A: 255}
			m.Set(j%imageWidth, j/imageWidth, col)
		}
		images = append(images, m)
	}
	fmt.Printf("read %d images from %s\n", len(labels), name)
	return img.NewData(classes, labels, images), nil
}

// load class descriptions from file
func readClasses(name string) ([]string, error) {
	pathName := path.Join(nnet.DataDir, "cifar-100", name)
	f, err := os.Open(pathName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	classes := []string{}
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, s.Err()
}
