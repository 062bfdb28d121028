// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package blacklist blocks commands on blacklisted topics.
package blacklist

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type blacklistedItem struct {
	Topic string `yaml:"topic"`
}

// NewBlacklist returns a middleware that blocks publishing and subscribing
// on blacklisted topics. Lists are file names or http(s) URLs of YAML files.
func NewBlacklist(lists ...string) (b *Blacklist, err error) {
	b = &Blacklist{
		log:   log.Get(),
		lists: make(map[string][]blacklistedItem),
	}
	b.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, location := range lists {
		if err := b.addList(location); err != nil {
			b.log.WithError(err).WithField("List", location).Warn("Could not add blacklist")
		}
	}
	b.FetchRemotes()
	go func() {
		for e := range b.watcher.Events {
			if e.Op&fsnotify.Write == fsnotify.Write {
				if err := b.read(e.Name); err != nil {
					b.log.WithError(err).WithField("List", e.Name).Warn("Could not reload blacklist")
				}
			}
		}
	}()
	return b, nil
}

// Blacklist middleware
type Blacklist struct {
	log     log.Interface
	watcher *fsnotify.Watcher
	urls    []string

	mu      sync.RWMutex
	lists   map[string][]blacklistedItem
	filters []string
}

func (b *Blacklist) addList(location string) error {
	url, err := url.Parse(location)
	if err != nil {
		return err
	}
	switch url.Scheme {
	case "", "file":
		return b.addFile(url.Path)
	case "http", "https":
		return b.addURL(url)
	}
	return errors.New("blacklist: unknown list type")
}

func (b *Blacklist) addFile(filename string) (err error) {
	filename, err = filepath.Abs(filename)
	if err != nil {
		return err
	}
	if err = b.watcher.Add(filename); err != nil {
		return err
	}
	return b.read(filename)
}

func (b *Blacklist) addURL(url *url.URL) error {
	b.urls = append(b.urls, url.String())
	return nil
}

// FetchRemotes fetches remote blacklists
func (b *Blacklist) FetchRemotes() error {
	var failed int
	for _, url := range b.urls {
		if err := b.fetch(url); err != nil {
			b.log.WithError(err).WithField("List", url).Warn("Could not fetch blacklist")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("blacklist: could not fetch %d of %d lists", failed, len(b.urls))
	}
	return nil
}

// Close the blacklist watcher
func (b *Blacklist) Close() {
	b.watcher.Close()
}

func (b *Blacklist) set(location string, contents []byte) error {
	var blacklist []blacklistedItem
	if err := yaml.Unmarshal(contents, &blacklist); err != nil {
		return err
	}
	b.mu.Lock()
	b.lists[location] = blacklist
	b.updateLookup()
	b.mu.Unlock()
	b.log.WithField("List", location).WithField("Items", len(blacklist)).Debug("Loaded blacklist")
	return nil
}

func (b *Blacklist) read(filename string) error {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return b.set(filename, contents)
}

func (b *Blacklist) fetch(location string) error {
	resp, err := http.Get(location)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("blacklist: unexpected status %s", resp.Status)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return b.set(location, body)
}

func (b *Blacklist) updateLookup() {
	b.filters = b.filters[:0]
	for _, blacklist := range b.lists {
		for _, item := range blacklist {
			if item.Topic != "" {
				b.filters = append(b.filters, item.Topic)
			}
		}
	}
}

// ErrBlacklistedTopic is returned for commands on a blacklisted topic
var ErrBlacklistedTopic = errors.New("blacklist: topic is blacklisted")

// Match returns true if the topic matches the MQTT topic filter. The filter
// may contain + (one level) and # (all remaining levels) wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")
	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}

func (b *Blacklist) check(topic string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, filter := range b.filters {
		if Match(filter, topic) {
			return ErrBlacklistedTopic
		}
	}
	return nil
}

// HandlePublish blocks publishing on blacklisted topics
func (b *Blacklist) HandlePublish(_ middleware.Context, cmd *types.Command) error {
	return b.check(cmd.Topic)
}

// HandleSubscribe blocks subscribing to blacklisted topics
func (b *Blacklist) HandleSubscribe(_ middleware.Context, cmd *types.Command) error {
	return b.check(cmd.Topic)
}
