package main

import (
	"fmt"
	"os"
	"path"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

type config struct {
	Databases map[string]database `yaml:"databases"`
}

type database struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Slot     string `yaml:"slot"`
}

func (d database) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

func newConfig() *config {
	return &config{
		Databases: make(map[string]database),
	}
}

func loadConfig(path string) (*config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return &config{}, err
	}

	conf := newConfig()
	if err := yaml.Unmarshal(buf, conf); err != nil {
		return &config{}, err
	}

	return conf, nil
}

func lookupDatabase(dir string, name string) (database, error) {
	location, err := defaultConfigLocation(dir)
	if err != nil {
		return database{}, err
	}

	cfg, err := loadConfig(path.Join(location, "config.yaml"))
	if err != nil {
		return database{}, fmt.Errorf("load config: %s", err)
	}

	entry, ok := cfg.Databases[name]
	if !ok {
		return database{}, fmt.Errorf("database %q is not configured", name)
	}

	return entry, nil
}

func defaultConfigLocation(dir string) (string, error) {
	if dir == "" {
		// the default directory is home
		var err error
		dir, err = homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("home dir: %s", err)
		}

		dir = path.Join(dir, ".walfeed")
	}

	_, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir: %s", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("is not exist: %s", err)
	}

	return dir, nil
}
