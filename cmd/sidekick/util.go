package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/sidekick"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// apiURL picks the control API base URL: the explicit flag, else the [server]
// section of the config.
func apiURL(flagURL, configPath string) (string, error) {
	if flagURL != "" {
		return strings.TrimRight(flagURL, "/"), nil
	}
	c, err := sidekick.LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("error loading config: %w", err)
	}
	host := c.Server.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	if strings.HasPrefix(host, "0.0.0.0:") {
		host = "127.0.0.1" + strings.TrimPrefix(host, "0.0.0.0")
	}
	u := "http://" + host
	if base := strings.Trim(c.Server.BasePath, "/"); base != "" {
		u += "/" + base
	}
	return u, nil
}
