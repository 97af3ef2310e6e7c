package world

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Calendar constants: 60 minutes/hour, 24 hours/day, 30 days/month,
// 6 months/year.
const (
	MinutesPerHour = 60
	HoursPerDay    = 24
	DaysPerMonth   = 30
	MonthsPerYear  = 6

	minutesPerDay   = MinutesPerHour * HoursPerDay
	minutesPerMonth = minutesPerDay * DaysPerMonth
	minutesPerYear  = minutesPerMonth * MonthsPerYear
)

// DefaultMonthNames and DefaultDayNames are configuration, not code: callers
// may override them via [Clock.SetNames].
var (
	DefaultMonthNames = []string{"Thaw", "Bloom", "High Sun", "Harvest", "Dimming", "Deepfrost"}
	DefaultDayNames   = []string{"Firstday", "Forgeday", "Midweek", "Walkday", "Hearthday", "Restday"}
)

// GameTime is the persisted world clock state.
type GameTime struct {
	Minute       int   `json:"minute"`
	Hour         int   `json:"hour"`
	Day          int   `json:"day"`
	Month        int   `json:"month"`
	Year         int   `json:"year"`
	TotalMinutes int64 `json:"total_minutes"`
}

// fromTotal derives the calendar fields from an absolute minute count.
func fromTotal(total int64) GameTime {
	rem := total
	gt := GameTime{TotalMinutes: total}
	gt.Year = int(rem / minutesPerYear)
	rem %= minutesPerYear
	gt.Month = int(rem / minutesPerMonth)
	rem %= minutesPerMonth
	gt.Day = int(rem / minutesPerDay)
	rem %= minutesPerDay
	gt.Hour = int(rem / MinutesPerHour)
	gt.Minute = int(rem % MinutesPerHour)
	return gt
}

// Clock owns the game_time.jsonc file under the slot root.
type Clock struct {
	path       string
	monthNames []string
	dayNames   []string

	mu      sync.Mutex
	current GameTime
	loaded  bool
}

// NewClock returns a clock persisting to <root>/game_time.jsonc.
func NewClock(root string) *Clock {
	return &Clock{
		path:       filepath.Join(root, "game_time.jsonc"),
		monthNames: DefaultMonthNames,
		dayNames:   DefaultDayNames,
	}
}

// SetNames overrides the month and day name tables.
func (c *Clock) SetNames(months, days []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(months) == MonthsPerYear {
		c.monthNames = months
	}
	if len(days) > 0 {
		c.dayNames = days
	}
}

// Now returns the current game time, loading it on first use. A missing file
// starts the clock at zero.
func (c *Clock) Now() (GameTime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return GameTime{}, err
	}
	return c.current, nil
}

// Advance moves the clock forward by minutes and persists the result.
// Negative advances are rejected; time only moves forward.
func (c *Clock) Advance(minutes int) (GameTime, error) {
	if minutes < 0 {
		return GameTime{}, fmt.Errorf("world: cannot advance time by %d minutes", minutes)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(); err != nil {
		return GameTime{}, err
	}

	c.current = fromTotal(c.current.TotalMinutes + int64(minutes))
	data, err := json.MarshalIndent(c.current, "", "  ")
	if err != nil {
		return GameTime{}, fmt.Errorf("world: encode game time: %w", err)
	}
	if err := atomicWrite(c.path, data); err != nil {
		return GameTime{}, err
	}
	return c.current, nil
}

// MonthName returns the configured name for gt's month.
func (c *Clock) MonthName(gt GameTime) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gt.Month >= 0 && gt.Month < len(c.monthNames) {
		return c.monthNames[gt.Month]
	}
	return fmt.Sprintf("month %d", gt.Month)
}

// DayName returns the configured week-day name for gt.
func (c *Clock) DayName(gt GameTime) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.dayNames) == 0 {
		return fmt.Sprintf("day %d", gt.Day)
	}
	return c.dayNames[gt.Day%len(c.dayNames)]
}

func (c *Clock) loadLocked() error {
	if c.loaded {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.current = GameTime{}
		c.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("world: read game time: %w", err)
	}
	var gt GameTime
	if err := json.Unmarshal(data, &gt); err != nil {
		return fmt.Errorf("world: decode game time: %w", err)
	}
	// Recompute from total minutes so the fields always agree.
	c.current = fromTotal(gt.TotalMinutes)
	c.loaded = true
	return nil
}
