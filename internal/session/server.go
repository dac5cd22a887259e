package session

import (
	"strings"
)

// APIServer holds the URL templates of a Bot API server. Templates use the
// {token}, {method} and {path} placeholders.
type APIServer struct {
	Base string
	File string

	// IsLocal marks a self-hosted server that returns absolute local file paths
	IsLocal bool
}

// ProductionServer is the public Telegram Bot API server
var ProductionServer = APIServer{
	Base: "https://api.telegram.org/bot{token}/{method}",
	File: "https://api.telegram.org/file/bot{token}/{path}",
}

// NewAPIServerFromBase derives both URL templates from a server root URL
func NewAPIServerFromBase(base string, isLocal bool) APIServer {
	base = strings.TrimRight(base, "/")
	return APIServer{
		Base:    base + "/bot{token}/{method}",
		File:    base + "/file/bot{token}/{path}",
		IsLocal: isLocal,
	}
}

// APIURL returns the endpoint for an API method
func (s APIServer) APIURL(token, method string) string {
	return strings.NewReplacer("{token}", token, "{method}", method).Replace(s.Base)
}

// FileURL returns the download URL for a file path reported by getFile
func (s APIServer) FileURL(token, path string) string {
	return strings.NewReplacer("{token}", token, "{path}", strings.TrimLeft(path, "/")).Replace(s.File)
}
