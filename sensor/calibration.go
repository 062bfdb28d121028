// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package sensor turns raw sensor readings into published telemetry.
package sensor

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type calibrationFile struct {
	Offset float64 `yaml:"offset"`
}

// NewCalibration returns a Calibration that is stored in filename and
// reloaded when the file changes. An empty filename keeps the calibration in
// memory only.
func NewCalibration(filename string, ctx log.Interface) (c *Calibration, err error) {
	c = &Calibration{ctx: ctx.WithField("Component", "Calibration")}
	if filename == "" {
		return c, nil
	}
	c.filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(c.filename); os.IsNotExist(err) {
		if err := c.Save(); err != nil {
			return nil, err
		}
	}
	if err := c.read(); err != nil {
		return nil, err
	}
	c.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := c.watcher.Add(c.filename); err != nil {
		c.watcher.Close()
		return nil, err
	}
	go func() {
		for e := range c.watcher.Events {
			if e.Op&fsnotify.Write == fsnotify.Write {
				if err := c.read(); err != nil {
					c.ctx.WithError(err).Warn("Could not reload calibration")
				}
			}
		}
	}()
	return c, nil
}

// Calibration is the offset that is added to every raw reading
type Calibration struct {
	ctx      log.Interface
	filename string
	watcher  *fsnotify.Watcher

	mu     sync.RWMutex
	offset float64
}

func (c *Calibration) read() error {
	contents, err := ioutil.ReadFile(c.filename)
	if err != nil {
		return err
	}
	var file calibrationFile
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return err
	}
	c.mu.Lock()
	changed := c.offset != file.Offset
	c.offset = file.Offset
	c.mu.Unlock()
	if changed {
		c.ctx.WithField("Offset", file.Offset).Info("Loaded calibration")
	}
	return nil
}

// Offset returns the current offset
func (c *Calibration) Offset() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Set the offset
func (c *Calibration) Set(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = offset
}

// Calibrate sets the offset so that the sensor value reads as the real value
func (c *Calibration) Calibrate(real, sensor float64) float64 {
	offset := real - sensor
	c.Set(offset)
	c.ctx.WithFields(log.Fields{
		"Real":   real,
		"Sensor": sensor,
		"Offset": offset,
	}).Info("Calibrated sensor")
	return offset
}

// Save the offset to the calibration file
func (c *Calibration) Save() error {
	if c.filename == "" {
		return nil
	}
	contents, err := yaml.Marshal(calibrationFile{Offset: c.Offset()})
	if err != nil {
		return err
	}
	return ioutil.WriteFile(c.filename, contents, 0644)
}

// Close stops watching the calibration file
func (c *Calibration) Close() {
	if c.watcher != nil {
		c.watcher.Close()
	}
}
