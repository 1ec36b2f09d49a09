package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/contractgate/contractgate/internal/logging"
)

type order struct {
	ID    int     `json:"id"`
	Item  string  `json:"item"`
	Price float64 `json:"price"`
}

type store struct {
	mu     sync.Mutex
	nextID int
	orders []order
}

func (s *store) list() []order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]order{}, s.orders...)
}

func (s *store) add(o order) order {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	o.ID = s.nextID
	s.orders = append(s.orders, o)
	return o
}

func (s *store) get(id int) (order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return order{}, false
}

func main() {
	logger := logging.New(logging.Options{Level: "info", Format: "text"})
	orders := &store{}
	orders.add(order{Item: "coffee", Price: 4.5})

	mux := http.NewServeMux()

	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, orders.list())
		case http.MethodPost:
			var o order
			if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
				http.Error(w, "bad order", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusCreated, orders.add(o))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/orders/")
		// Breaks the contract on purpose: price comes back as a string.
		if rest == "legacy" {
			writeJSON(w, http.StatusOK, map[string]any{"id": 0, "item": "legacy", "price": "4.50"})
			return
		}
		id, err := strconv.Atoi(rest)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		o, ok := orders.get(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, o)
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("demo orders api listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("demo app", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
