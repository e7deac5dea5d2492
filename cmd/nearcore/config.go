package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/Bakeneke/nearcore/near"
)

const configFileName = "config.toml"

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func loadConfigFile(file string, cfg *near.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(f).Decode(cfg)
	if err != nil {
		return fmt.Errorf("%s: %v", file, err)
	}
	return nil
}

// loadNodeConfig resolves the node configuration: defaults, then the config
// file from --config or the home directory, then flag overrides.
func loadNodeConfig(ctx *cli.Context) (*near.Config, error) {
	cfg := near.DefaultConfig()
	home := ctx.String(homeFlag.Name)
	cfg.DataDir = filepath.Join(home, "data")

	file := ctx.String(configFileFlag.Name)
	if file == "" {
		if candidate := filepath.Join(home, configFileName); fileExists(candidate) {
			file = candidate
		}
	}
	if file != "" {
		if err := loadConfigFile(file, cfg); err != nil {
			return nil, err
		}
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.LogFile = ctx.String(logFileFlag.Name)
	}
	return cfg, nil
}

// initConfig writes the default configuration into the home directory.
func initConfig(ctx *cli.Context) error {
	home := ctx.String(homeFlag.Name)
	if err := os.MkdirAll(home, 0700); err != nil {
		return err
	}
	file := filepath.Join(home, configFileName)
	if fileExists(file) {
		return fmt.Errorf("config already exists: %s", file)
	}
	cfg := near.DefaultConfig()
	cfg.DataDir = filepath.Join(home, "data")

	out, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(file, out, 0600); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", file)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
