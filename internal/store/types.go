package store

import "time"

// File is one ingested source file.
type File struct {
	ID          int64
	Path        string
	Unit        string // class, trigger or anonymous
	Namespace   string
	Hash        string
	LastIndexed time.Time
}

// Stats summarizes the snapshot.
type Stats struct {
	Files      int `json:"files"`
	Symbols    int `json:"symbols"`
	References int `json:"references"`
}
