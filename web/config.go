package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/StevenLOL/algorithms-1/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Layers []Layer
	net    *Network
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view and update the network config
func NewConfigPage(t *Templates, net *Network) *ConfigPage {
	p := &ConfigPage{net: net}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.AddOption(Link{Name: "reset", Url: "/config/reset"})
	p.Fields = getFields(p.net.Conf)
	p.Layers = getLayers(p.net.Conf)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		p.Heading = p.modelMenu()
		p.Exec(w, "config", p, true)
	}
}

// Handler function for the action to load a new model
func (p *ConfigPage) Load() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		model := r.FormValue("model")
		log.Println("load model:", model)
		data, err := LoadNetwork(model, false)
		if err != nil {
			logError(w, err)
			return
		}
		p.net.NetworkData = data
		if err = p.net.Init(p.net.Conf); err != nil {
			logError(w, err)
			return
		}
		if err = p.net.Import(); err != nil {
			logError(w, err)
			return
		}
		p.Fields = getFields(p.net.Conf)
		p.Layers = getLayers(p.net.Conf)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config form save action
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		r.ParseForm()
		haveErrors := false
		conf := p.net.Conf
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			var err error
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				conf, err = conf.SetBool(fld.Name, p.Fields[i].On)
			} else {
				p.Fields[i].Value = val
				conf, err = conf.SetString(fld.Name, val)
			}
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if !haveErrors {
			if err := conf.Save(p.net.Model + ".conf"); err != nil {
				logError(w, err)
				return
			}
			p.net.Conf = conf
			p.net.updated = true
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// Handler function for the config form reset action
func (p *ConfigPage) Reset() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.net.Lock()
		defer p.net.Unlock()
		conf, err := nnet.LoadConfig(p.net.Model + ".default")
		if err != nil {
			logError(w, err)
			return
		}
		if err = conf.Save(p.net.Model + ".conf"); err != nil {
			logError(w, err)
			return
		}
		p.net.Conf = conf
		p.net.updated = true
		p.Fields = getFields(conf)
		p.Layers = getLayers(conf)
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// drop down menu listing the config files under the data dir
func (p *ConfigPage) modelMenu() template.HTML {
	entries, err := os.ReadDir(nnet.DataDir)
	if err != nil {
		log.Println("error reading models:", err)
		return ""
	}
	html := `model: <select name="model" class="model-select" form="loadConfig" onchange="this.form.submit()">`
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".conf") {
			name = strings.TrimSuffix(name, ".conf")
			if name == p.net.Model {
				html += "<option selected>" + name + "</option>"
			} else {
				html += "<option>" + name + "</option>"
			}
		}
	}
	html += "</select>"
	return template.HTML(html)
}

func getFields(conf nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		f := Field{Name: key, Value: fmt.Sprint(conf.Get(key))}
		f.On, f.Boolean = conf.Get(key).(bool)
		flds = append(flds, f)
	}
	return flds
}

func getLayers(conf nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}
