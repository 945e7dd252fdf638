package config

import "fmt"

// ICSConfig names the PRODID components stamped on every iCalendar
// document the server emits, invites and feeds alike.
type ICSConfig struct {
	CompanyName string
	ProductName string
	Version     string
	Language    string
}

// BuildProdID renders the RFC 5545 product identifier, for example
// "-//CalDave//CalDave 1.0.0//EN". The version segment is omitted when
// unset.
func (cfg ICSConfig) BuildProdID() string {
	product := cfg.ProductName
	if cfg.Version != "" {
		product += " " + cfg.Version
	}
	return fmt.Sprintf("-//%s//%s//%s", cfg.CompanyName, product, cfg.Language)
}
