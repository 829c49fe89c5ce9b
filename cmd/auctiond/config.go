package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/gavel-io/gavel/internal/models"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type rulesFile struct {
	Slabs []struct {
		UpTo      string `yaml:"up_to"`
		Unbounded bool   `yaml:"unbounded"`
		Increment string `yaml:"increment"`
	} `yaml:"slabs"`
	TimerDuration string `yaml:"timer_duration"`
	UndoWindow    string `yaml:"undo_window"`
	AllowJumpBids bool   `yaml:"allow_jump_bids"`
}

// loadDefaultRules reads the bidding rules applied to sessions that are
// created without explicit rules. A missing file falls back to built-ins.
func loadDefaultRules(path string) (models.AuctionRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builtinRules(), nil
		}
		return models.AuctionRules{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.AuctionRules{}, fmt.Errorf("failed to parse rules file: %w", err)
	}

	rules := models.AuctionRules{AllowJumpBids: file.AllowJumpBids}
	for i, slab := range file.Slabs {
		entry := models.BidSlab{Unbounded: slab.Unbounded}
		if !slab.Unbounded {
			upTo, err := decimal.NewFromString(slab.UpTo)
			if err != nil {
				return models.AuctionRules{}, fmt.Errorf("slab %d: invalid up_to: %w", i, err)
			}
			entry.UpTo = upTo
		}
		inc, err := decimal.NewFromString(slab.Increment)
		if err != nil {
			return models.AuctionRules{}, fmt.Errorf("slab %d: invalid increment: %w", i, err)
		}
		entry.Increment = inc
		rules.Slabs = append(rules.Slabs, entry)
	}

	if rules.TimerDuration, err = time.ParseDuration(file.TimerDuration); err != nil {
		return models.AuctionRules{}, fmt.Errorf("invalid timer_duration: %w", err)
	}
	if rules.UndoWindow, err = time.ParseDuration(file.UndoWindow); err != nil {
		return models.AuctionRules{}, fmt.Errorf("invalid undo_window: %w", err)
	}
	if err := rules.Slabs.Validate(); err != nil {
		return models.AuctionRules{}, fmt.Errorf("invalid slab table in %s: %w", path, err)
	}
	return rules, nil
}

func builtinRules() models.AuctionRules {
	return models.AuctionRules{
		Slabs:         models.DefaultSlabTable(),
		TimerDuration: models.DefaultTimerDuration,
		UndoWindow:    models.DefaultUndoWindow,
		AllowJumpBids: true,
	}
}
