package web

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"strings"
)

// Directory containing the html templates and static files
var AssetDir = assetDir()

func assetDir() string {
	if dir := os.Getenv("ASSET_DIR"); dir != "" {
		return dir
	}
	return "assets"
}

// Template set and menu definition shared by the page handlers
type Templates struct {
	*template.Template
	Menu     []Link
	Options  []Link
	Dropdown []Link
	Heading  template.HTML
	Toplevel bool
}

type Link struct {
	Url      string
	Name     string
	Selected bool
	Submit   bool
}

// Load and parse templates and initialise main menu
func NewTemplates() (*Templates, error) {
	var err error
	t := &Templates{Menu: []Link{}, Options: []Link{}}
	t.Template, err = template.ParseGlob(AssetDir + "/*.html")
	return t, err
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

func (t *Templates) SelectOptions(names []string) *Templates {
	for i, key := range t.Options {
		t.Options[i].Selected = false
		for _, name := range names {
			if key.Name == name {
				t.Options[i].Selected = true
			}
		}
	}
	return t
}

// Execute the named template, toplevel pages get the menu bar and heading
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}, toplevel bool) {
	t.Toplevel = toplevel
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

func logError(w http.ResponseWriter, err error) {
	log.Println(err)
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
