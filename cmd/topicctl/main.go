package main

import (
	"os"

	"medbrief/internal/infra/config"
	applog "medbrief/internal/infra/log"
)

func main() {
	cfg := config.Load()
	rt := &runtime{cfg: cfg, logger: applog.NewLogger(cfg.AppEnv)}
	root := newRootCmd(rt)
	err := root.Execute()
	rt.close()
	if err != nil {
		os.Exit(1)
	}
}
