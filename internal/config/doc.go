// Package config provides the avaserve configuration model and its YAML
// loader.
//
// Configuration files support ${VAR} and ${VAR:-default} environment
// substitution; "$$" produces a literal dollar sign.
//
//	cfg, err := config.Load("avaserve.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
