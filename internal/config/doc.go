// Package config loads and validates posextract configuration.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern POSX_<SECTION>_<FIELD>:
//
//	POSX_SERVER_PORT=8080
//	POSX_SITE_BASE_URL=https://backoffice.example.com
//	POSX_CREDENTIALS_USERNAME=reports
//	POSX_EXTRACTION_LOCATIONS="Downtown=101,Airport=102"
//	POSX_STORE_DRIVER=sqlite
//
// The file path is taken from the --config flag, POSX_CONFIG, or the first of
// posextract.yaml and configs/posextract.yaml that exists.
//
// # Path Management
//
// Derived directories (downloads, reports, browser profile) hang off
// Paths.DataDir unless set explicitly:
//
//	paths, err := cfg.GetPaths()
//	if err := paths.EnsureDirectories(); err != nil { ... }
package config
