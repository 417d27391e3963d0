// Package assets embeds the browser client script
package assets

import (
	"embed"
	"io/fs"
)

//go:embed client/*
var clientFS embed.FS

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the live client script served at /assets/mdview.js
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/mdview.js")
}
