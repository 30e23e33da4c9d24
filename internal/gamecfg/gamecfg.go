// Package gamecfg loads case definitions and casino odds tables from YAML.
package gamecfg

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/outcome"
)

// Config is the root of games.yaml.
type Config struct {
	Cases    []Case         `yaml:"cases"`
	Limits   Limits         `yaml:"limits"`
	Dice     DiceConfig     `yaml:"dice"`
	Coinflip CoinflipConfig `yaml:"coinflip"`
	Wheel    WheelConfig    `yaml:"wheel"`
	Mines    MinesConfig    `yaml:"mines"`
}

// Case is a purchasable case and its drop table.
type Case struct {
	ID    string       `yaml:"id"`
	Name  string       `yaml:"name"`
	Image string       `yaml:"image"`
	Price domain.Money `yaml:"price"`
	Items []CaseItem   `yaml:"items"`
}

// CaseItem is one possible drop with its relative weight.
type CaseItem struct {
	ItemKey string `yaml:"item_key"`
	Weight  int64  `yaml:"weight"`
}

// Limits bound every casino wager.
type Limits struct {
	MinBet domain.Money `yaml:"min_bet"`
	MaxBet domain.Money `yaml:"max_bet"`
}

type DiceConfig struct {
	HouseEdge float64 `yaml:"house_edge"`
	MinTarget int     `yaml:"min_target"`
	MaxTarget int     `yaml:"max_target"`
}

type CoinflipConfig struct {
	HouseEdge float64 `yaml:"house_edge"`
}

type WheelConfig struct {
	Segments []WheelSegment `yaml:"segments"`
}

type WheelSegment struct {
	Label      string  `yaml:"label"`
	Weight     int64   `yaml:"weight"`
	Multiplier float64 `yaml:"multiplier"`
}

type MinesConfig struct {
	Cells     int     `yaml:"cells"`
	HouseEdge float64 `yaml:"house_edge"`
	MinMines  int     `yaml:"min_mines"`
	MaxMines  int     `yaml:"max_mines"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gamecfg: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML bytes.
func Parse(raw []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("gamecfg: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns the odds used when games.yaml omits a section.
func Defaults() Config {
	return Config{
		Limits:   Limits{MinBet: 10, MaxBet: 100_000},
		Dice:     DiceConfig{HouseEdge: 0.01, MinTarget: 2, MaxTarget: 98},
		Coinflip: CoinflipConfig{HouseEdge: 0.04},
		Mines:    MinesConfig{Cells: 25, HouseEdge: 0.04, MinMines: 1, MaxMines: 24},
	}
}

// Validate checks every table and returns all problems at once.
func (c *Config) Validate() error {
	var errs []string

	seen := make(map[string]bool, len(c.Cases))
	for i, cs := range c.Cases {
		if cs.ID == "" {
			errs = append(errs, fmt.Sprintf("cases[%d]: id must not be empty", i))
		} else if seen[cs.ID] {
			errs = append(errs, fmt.Sprintf("cases[%d]: duplicate id %q", i, cs.ID))
		}
		seen[cs.ID] = true
		if cs.Price <= 0 {
			errs = append(errs, fmt.Sprintf("case %q: price must be > 0", cs.ID))
		}
		var total int64
		for j, it := range cs.Items {
			if it.ItemKey == "" {
				errs = append(errs, fmt.Sprintf("case %q: items[%d] item_key must not be empty", cs.ID, j))
			}
			if it.Weight < 0 {
				errs = append(errs, fmt.Sprintf("case %q: items[%d] weight must be >= 0", cs.ID, j))
			}
			total += it.Weight
		}
		if total <= 0 {
			errs = append(errs, fmt.Sprintf("case %q: total weight must be > 0", cs.ID))
		}
	}

	if c.Limits.MinBet <= 0 || c.Limits.MaxBet < c.Limits.MinBet {
		errs = append(errs, "limits: need 0 < min_bet <= max_bet")
	}
	if !validEdge(c.Dice.HouseEdge) || !validEdge(c.Coinflip.HouseEdge) || !validEdge(c.Mines.HouseEdge) {
		errs = append(errs, "house_edge must be in [0, 1)")
	}
	if c.Dice.MinTarget < 1 || c.Dice.MaxTarget > 99 || c.Dice.MinTarget > c.Dice.MaxTarget {
		errs = append(errs, "dice: need 1 <= min_target <= max_target <= 99")
	}
	for i, s := range c.Wheel.Segments {
		if s.Weight < 0 || s.Multiplier < 0 {
			errs = append(errs, fmt.Sprintf("wheel: segments[%d] weight and multiplier must be >= 0", i))
		}
	}
	if c.Mines.Cells < 2 || c.Mines.MinMines < 1 || c.Mines.MaxMines >= c.Mines.Cells || c.Mines.MinMines > c.Mines.MaxMines {
		errs = append(errs, "mines: need 1 <= min_mines <= max_mines < cells")
	}

	if len(errs) > 0 {
		return fmt.Errorf("gamecfg validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validEdge(h float64) bool { return h >= 0 && h < 1 }

// Case returns the case with the given id.
func (c *Config) Case(id string) (Case, error) {
	for _, cs := range c.Cases {
		if cs.ID == id {
			return cs, nil
		}
	}
	return Case{}, fmt.Errorf("case %q: %w", id, domain.ErrNotFound)
}

// Weights returns the drop weights of cs in item order.
func (cs Case) Weights() []int64 {
	w := make([]int64, len(cs.Items))
	for i, it := range cs.Items {
		w[i] = it.Weight
	}
	return w
}

// Games builds the single-shot game resolvers keyed by name. The wheel is
// omitted when no segments are configured.
func (c *Config) Games() map[string]outcome.Game {
	games := map[string]outcome.Game{
		"dice": outcome.Dice{
			HouseEdge: decimal.NewFromFloat(c.Dice.HouseEdge),
			MinTarget: c.Dice.MinTarget,
			MaxTarget: c.Dice.MaxTarget,
		},
		"coinflip": outcome.Coinflip{HouseEdge: decimal.NewFromFloat(c.Coinflip.HouseEdge)},
	}
	if len(c.Wheel.Segments) > 0 {
		segs := make([]outcome.Segment, len(c.Wheel.Segments))
		for i, s := range c.Wheel.Segments {
			segs[i] = outcome.Segment{
				Label:      s.Label,
				Weight:     s.Weight,
				Multiplier: decimal.NewFromFloat(s.Multiplier),
			}
		}
		games["wheel"] = outcome.Wheel{Segments: segs}
	}
	return games
}
