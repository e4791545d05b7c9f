// Package location detects where the conversation happens and what the
// weather is like there, for the system prompt.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultIPStackURL = "http://api.ipstack.com"
	defaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"
	defaultCacheTTL   = time.Hour
)

// Config selects the lookup services. Empty keys disable the lookup.
type Config struct {
	IPStackKey     string        `json:"ipstack_key"`
	OpenWeatherKey string        `json:"openweather_key"`
	IPStackURL     string        `json:"ipstack_url,omitempty"`
	WeatherURL     string        `json:"weather_url,omitempty"`
	CacheTTL       time.Duration `json:"cache_ttl,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Location is a resolved place.
type Location struct {
	Country   string  `json:"country_name"`
	Region    string  `json:"region_name"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	TimeZone  string  `json:"time_zone"`
}

// Default is used when detection is disabled or fails.
var Default = Location{
	Country:   "中国",
	Region:    "北京",
	City:      "北京",
	Latitude:  39.9042,
	Longitude: 116.4074,
	TimeZone:  "Asia/Shanghai",
}

// Weather is the current condition at a location.
type Weather struct {
	Description  string  `json:"description"`
	TemperatureC float64 `json:"temperature_c"`
}

type cached[T any] struct {
	value T
	ok    bool
	at    time.Time
}

// Service resolves location and weather, caching both.
type Service struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	loc     *cached[Location]
	weather map[string]cached[Weather]
	group   singleflight.Group
}

// NewService creates a Service.
func NewService(cfg Config, logger *zap.Logger) *Service {
	if cfg.IPStackURL == "" {
		cfg.IPStackURL = defaultIPStackURL
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = defaultWeatherURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Service{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		now:     time.Now,
		weather: make(map[string]cached[Weather]),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Detect returns the current location. Failures fall back to Default, which
// is cached like a real answer.
func (s *Service) Detect(ctx context.Context) Location {
	s.mu.Lock()
	if c := s.loc; c != nil && s.now().Sub(c.at) < s.cfg.CacheTTL {
		s.mu.Unlock()
		return c.value
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do("location", func() (any, error) {
		loc := Default
		if s.cfg.IPStackKey != "" {
			got, err := s.lookupIP(ctx)
			if err != nil {
				s.logger.Warn("location lookup failed, using default", zap.Error(err))
			} else {
				loc = got
			}
		}
		s.mu.Lock()
		s.loc = &cached[Location]{value: loc, ok: true, at: s.now()}
		s.mu.Unlock()
		return loc, nil
	})
	return v.(Location)
}

// Weather returns the weather at loc, or false when unavailable.
func (s *Service) Weather(ctx context.Context, loc Location) (Weather, bool) {
	if s.cfg.OpenWeatherKey == "" {
		return Weather{}, false
	}
	key := strconv.FormatFloat(loc.Latitude, 'f', 2, 64) + "," + strconv.FormatFloat(loc.Longitude, 'f', 2, 64)

	s.mu.Lock()
	if c, hit := s.weather[key]; hit && s.now().Sub(c.at) < s.cfg.CacheTTL {
		s.mu.Unlock()
		return c.value, c.ok
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do("weather:"+key, func() (any, error) {
		w, err := s.lookupWeather(ctx, loc)
		c := cached[Weather]{value: w, ok: err == nil, at: s.now()}
		if err != nil {
			s.logger.Warn("weather lookup failed", zap.Error(err))
		}
		s.mu.Lock()
		s.weather[key] = c
		s.mu.Unlock()
		return c, nil
	})
	c := v.(cached[Weather])
	return c.value, c.ok
}

// Summary renders place, local time and weather as prompt text.
func (s *Service) Summary(ctx context.Context) string {
	loc := s.Detect(ctx)
	summary := fmt.Sprintf("%s, %s, %s\n当地时间: %s",
		orUnknown(loc.City, "未知城市"), orUnknown(loc.Region, "未知地区"), orUnknown(loc.Country, "未知国家"),
		s.localTime(loc).Format("2006-01-02 15:04:05"))
	if w, ok := s.Weather(ctx, loc); ok {
		summary += fmt.Sprintf("\n天气: %s, 温度: %.1f°C", orUnknown(w.Description, "未知"), w.TemperatureC)
	}
	return summary
}

func (s *Service) localTime(loc Location) time.Time {
	now := s.now()
	if loc.TimeZone == "" {
		return now
	}
	tz, err := time.LoadLocation(loc.TimeZone)
	if err != nil {
		return now
	}
	return now.In(tz)
}

type ipstackResponse struct {
	Location
	TimeZone *struct {
		ID string `json:"id"`
	} `json:"time_zone"`
	Success *bool `json:"success"`
	Error   *struct {
		Info string `json:"info"`
	} `json:"error"`
}

func (s *Service) lookupIP(ctx context.Context) (Location, error) {
	q := url.Values{
		"access_key": {s.cfg.IPStackKey},
		"fields":     {"country_name,region_name,city,latitude,longitude,time_zone"},
	}
	var r ipstackResponse
	if err := s.getJSON(ctx, s.cfg.IPStackURL+"/check?"+q.Encode(), &r); err != nil {
		return Location{}, err
	}
	if r.Success != nil && !*r.Success {
		info := "unknown error"
		if r.Error != nil {
			info = r.Error.Info
		}
		return Location{}, fmt.Errorf("ipstack: %s", info)
	}
	loc := r.Location
	if r.TimeZone != nil {
		loc.TimeZone = r.TimeZone.ID
	}
	if loc.City == "" && loc.Country == "" {
		return Location{}, fmt.Errorf("ipstack: empty location")
	}
	return loc, nil
}

type weatherResponse struct {
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

func (s *Service) lookupWeather(ctx context.Context, loc Location) (Weather, error) {
	q := url.Values{
		"lat":   {strconv.FormatFloat(loc.Latitude, 'f', -1, 64)},
		"lon":   {strconv.FormatFloat(loc.Longitude, 'f', -1, 64)},
		"appid": {s.cfg.OpenWeatherKey},
		"units": {"metric"},
		"lang":  {"zh_cn"},
	}
	var r weatherResponse
	if err := s.getJSON(ctx, s.cfg.WeatherURL+"?"+q.Encode(), &r); err != nil {
		return Weather{}, err
	}
	w := Weather{TemperatureC: r.Main.Temp}
	if len(r.Weather) > 0 {
		w.Description = r.Weather[0].Description
	}
	return w, nil
}

func (s *Service) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func orUnknown(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
