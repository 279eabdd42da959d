// Web interface to train the network and browse the data sets.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/StevenLOL/algorithms-1/nnet"
	"github.com/StevenLOL/algorithms-1/web"
)

const (
	scale = 3
	rows  = 8
	cols  = 10
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	cert := flag.String("cert", "", "TLS certificate file")
	key := flag.String("key", "", "TLS key file")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("usage: web [opts] <model>")
		os.Exit(1)
	}
	model := flag.Arg(0)

	net, err := web.NewNetwork(model)
	nnet.CheckErr(err)

	t, err := web.NewTemplates()
	nnet.CheckErr(err)
	t.AddMenuItem(web.Link{Url: "/train/stats", Name: "train"})
	t.AddMenuItem(web.Link{Url: "/images/train/", Name: "images"})
	t.AddMenuItem(web.Link{Url: "/view/outputs/", Name: "view"})
	t.AddMenuItem(web.Link{Url: "/config", Name: "config"})

	trainPage := web.NewTrainPage(t.Clone(), net)
	imagePage := web.NewImagePage(t.Clone(), net, scale, rows, cols)
	viewPage := web.NewViewPage(t.Clone(), net)
	configPage := web.NewConfigPage(t.Clone(), net)

	r := mux.NewRouter()
	r.Use(web.NewAuthMiddleware().Middleware)
	r.Handle("/", http.RedirectHandler("/train/stats", http.StatusFound))
	r.PathPrefix("/static/").Handler(http.FileServer(http.Dir(web.AssetDir)))

	r.Handle("/train", http.RedirectHandler("/train/stats", http.StatusFound))
	r.HandleFunc("/train/{cmd:(?:stats|start|stop|continue|tune)}", trainPage.Base())
	r.HandleFunc("/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())

	r.Handle("/images", http.RedirectHandler("/images/train/", http.StatusFound))
	r.HandleFunc("/images/{dset}/{opt:(?:all|errors|prev|next|distort)}", imagePage.Setopt())
	r.HandleFunc("/images/{dset}/{class:[0-9]*}", imagePage.Base())
	r.HandleFunc("/images/{dset}/", imagePage.Base())
	r.HandleFunc("/grid/{dset}", imagePage.Grid())
	r.HandleFunc("/img/{dset}/{id:[0-9]+}", imagePage.Image())

	r.Handle("/view", http.RedirectHandler("/view/outputs/", http.StatusFound))
	r.HandleFunc("/view/{page:(?:outputs|weights)}/{opt:(?:prev|next)}", viewPage.Setopt())
	r.HandleFunc("/view/{page:(?:outputs|weights)}/", viewPage.Base())
	r.HandleFunc("/net/{page}/{layer:[0-9]+}", viewPage.Image())
	r.HandleFunc("/net/{page}", viewPage.Network())

	r.HandleFunc("/config", configPage.Base())
	r.HandleFunc("/config/load", configPage.Load())
	r.HandleFunc("/config/save", configPage.Save()).Methods("POST")
	r.HandleFunc("/config/reset", configPage.Reset())

	if *cert != "" && *key != "" {
		fmt.Printf("serving web page at https://localhost%s\n", *addr)
		err = http.ListenAndServeTLS(*addr, *cert, *key, r)
	} else {
		fmt.Printf("serving web page at http://localhost%s\n", *addr)
		err = http.ListenAndServe(*addr, r)
	}
	nnet.CheckErr(err)
}
