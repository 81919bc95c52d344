package main

import (
	"strings"

	"github.com/dbartussek-go/kernelcore/internal/cli"
	"github.com/fsnotify/fsnotify"
)

func runWatch(logger *cli.Logger, cfg *cli.Config, release bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range cfg.WatchDirs {
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	logger.Info("watching %s for changes", strings.Join(cfg.WatchDirs, ", "))

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Info("%s changed, rebuilding manifest", ev.Name)
			if err := runBuild(logger, cfg, release); err != nil {
				logger.Error("rebuild failed: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: %v", err)
		}
	}
}
