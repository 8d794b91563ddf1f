// Package config provides loading and environment overlay for mediaflo
// configuration. It exposes a Default() baseline, file loading through
// viper, and MEDIAFLO_* environment overrides.
//
// Example:
//
//	cfg, err := config.Load("/etc/mediaflo.yaml")
//	if err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
