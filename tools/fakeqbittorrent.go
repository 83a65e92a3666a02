// fakeqbittorrent serves the slice of the qBittorrent Web API that curator
// dispatches to, so matches can be dispatched end to end without a real
// client. Run it with: go run ./tools
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/gorilla/mux"
)

type fakeTorrent struct {
	Hash     string `json:"hash"`
	Name     string `json:"name"`
	SavePath string `json:"save_path"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
	AddedOn  int64  `json:"added_on"`
}

type store struct {
	mu       sync.Mutex
	torrents map[string]fakeTorrent
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	s := &store{torrents: make(map[string]fakeTorrent)}
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v2").Subrouter()
	api.HandleFunc("/auth/login", s.login).Methods("POST")
	api.HandleFunc("/app/version", text("v4.6.0")).Methods("GET")
	api.HandleFunc("/app/webapiVersion", text("2.9.3")).Methods("GET")
	api.HandleFunc("/torrents/info", s.info).Methods("GET", "POST")
	api.HandleFunc("/torrents/add", s.add).Methods("POST")

	log.Printf("Fake qBittorrent listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}

func text(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

func (s *store) login(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "SID", Value: "fake-session", Path: "/"})
	fmt.Fprint(w, "Ok.")
}

func (s *store) info(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	var wanted map[string]bool
	if hashes := r.Form.Get("hashes"); hashes != "" && hashes != "all" {
		wanted = make(map[string]bool)
		for _, h := range strings.Split(hashes, "|") {
			wanted[strings.ToLower(h)] = true
		}
	}

	s.mu.Lock()
	list := make([]fakeTorrent, 0, len(s.torrents))
	for hash, t := range s.torrents {
		if wanted == nil || wanted[hash] {
			list = append(list, t)
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (s *store) add(w http.ResponseWriter, r *http.Request) {
	// Magnets arrive form encoded, torrent files as multipart.
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		err = r.ParseMultipartForm(32 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var added []fakeTorrent
	for _, link := range strings.Split(r.FormValue("urls"), "\n") {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		m, err := metainfo.ParseMagnetUri(link)
		if err != nil {
			http.Error(w, "invalid magnet: "+err.Error(), http.StatusBadRequest)
			return
		}
		added = append(added, s.torrent(r, m.InfoHash.HexString(), m.DisplayName))
	}

	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				mi, err := metainfo.Load(io.LimitReader(f, 32<<20))
				f.Close()
				if err != nil {
					http.Error(w, "invalid torrent: "+err.Error(), http.StatusBadRequest)
					return
				}
				name := fh.Filename
				if info, err := mi.UnmarshalInfo(); err == nil {
					name = info.BestName()
				}
				added = append(added, s.torrent(r, mi.HashInfoBytes().HexString(), name))
			}
		}
	}

	if len(added) == 0 {
		http.Error(w, "Fails.", http.StatusUnsupportedMediaType)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range added {
		if _, ok := s.torrents[t.Hash]; ok {
			// qBittorrent 5 answers 409 for torrents it already has
			http.Error(w, "Fails.", http.StatusConflict)
			return
		}
	}
	for _, t := range added {
		s.torrents[t.Hash] = t
		log.Printf("Added %s (%s) to %s [category=%s tags=%s]", t.Name, t.Hash, t.SavePath, t.Category, t.Tags)
	}
	fmt.Fprint(w, "Ok.")
}

func (s *store) torrent(r *http.Request, hash, name string) fakeTorrent {
	return fakeTorrent{
		Hash:     strings.ToLower(hash),
		Name:     name,
		SavePath: r.FormValue("savepath"),
		Category: r.FormValue("category"),
		Tags:     r.FormValue("tags"),
		AddedOn:  time.Now().Unix(),
	}
}
