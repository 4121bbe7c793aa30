// Package config reads bridge settings from HCL files with include support,
// then applies environment overrides.
// Every feature block is optional: absent broker or topic disables the
// corresponding feature without error.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brunobpinto/smart-trashcans/helpers"
	"github.com/brunobpinto/smart-trashcans/log2"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

// DevicePlaceholder is substituted with device id in Mqtt.DownlinkTopic.
const DevicePlaceholder = "{device_id}"

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Log struct {
		Level string `hcl:"level"`
	} `hcl:"log"`
	Mqtt     Mqtt     `hcl:"mqtt"`
	Telegram Telegram `hcl:"telegram"`
	Report   Report   `hcl:"report"`
	Queue    Queue    `hcl:"queue"`
	Database Database `hcl:"database"`
	HTTP     HTTP     `hcl:"http"`
}

type Mqtt struct { //nolint:maligned
	BrokerURL         string   `hcl:"broker_url"`
	Username          string   `hcl:"username"`
	Password          string   `hcl:"password"` // secret
	ClientID          string   `hcl:"client_id"`
	DownlinkTopic     string   `hcl:"downlink_topic"`
	UplinkTopic       string   `hcl:"uplink_topic"`
	DeviceIDs         []string `hcl:"device_ids"`
	ConnectTimeoutSec int      `hcl:"connect_timeout_sec"`
	KeepaliveSec      int      `hcl:"keepalive_sec"`
	DecodeRaw         bool     `hcl:"decode_raw"`
	LogDebug          bool     `hcl:"log_debug"`
}

func (m *Mqtt) DownlinkEnabled() bool { return m.BrokerURL != "" && m.DownlinkTopic != "" }
func (m *Mqtt) UplinkEnabled() bool   { return m.BrokerURL != "" && m.UplinkTopic != "" }
func (m *Mqtt) ConnectTimeout() time.Duration {
	return helpers.IntSecondDefault(m.ConnectTimeoutSec, 30*time.Second)
}
func (m *Mqtt) Keepalive() time.Duration {
	return helpers.IntSecondDefault(m.KeepaliveSec, 60*time.Second)
}

// DownlinkTopicFor substitutes device id into DownlinkTopic template.
func (m *Mqtt) DownlinkTopicFor(deviceID string) string {
	return strings.ReplaceAll(m.DownlinkTopic, DevicePlaceholder, deviceID)
}

type Telegram struct {
	BotToken   string `hcl:"bot_token"` // secret
	ChatID     string `hcl:"chat_id"`
	APIURL     string `hcl:"api_url"`
	TimeoutSec int    `hcl:"timeout_sec"`
}

func (t *Telegram) Enabled() bool { return t.BotToken != "" && t.ChatID != "" }

type Report struct {
	WarmupSec   int `hcl:"warmup_sec"`
	IntervalSec int `hcl:"interval_sec"`
	Top         int `hcl:"top"`
}

func (r *Report) Warmup() time.Duration {
	return helpers.IntSecondDefault(r.WarmupSec, 30*time.Second)
}
func (r *Report) Interval() time.Duration {
	return helpers.IntSecondDefault(r.IntervalSec, time.Hour)
}

type Queue struct {
	// empty Path keeps queue in memory
	Path          string `hcl:"path"`
	MaxAttempts   int    `hcl:"max_attempts"`
	RetryDelaySec int    `hcl:"retry_delay_sec"`
}

// RetryDelay is first delay before redelivery, doubles up to 5 minutes.
func (q *Queue) RetryDelay() time.Duration {
	return helpers.IntSecondDefault(q.RetryDelaySec, time.Second)
}

type Database struct {
	URL          string `hcl:"url"` // secret
	MaxOpenConns int    `hcl:"max_open_conns"`
}

type HTTP struct {
	// empty Listen disables ops server
	Listen string `hcl:"listen"`
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read parses names in order, later files override earlier values.
// No names means defaults plus environment only.
func Read(log *log2.Log, fs FullReader, getenv func(string) string, names ...string) (*Config, error) {
	if osfs, ok := fs.(*OsFullReader); ok && len(names) > 0 {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if getenv != nil {
		c.applyEnv(getenv)
	}
	c.defaults()
	return c, helpers.FoldErrors(errs)
}

func ReadOS(log *log2.Log, names ...string) (*Config, error) {
	fs, err := NewOsFullReader(".")
	if err != nil {
		return nil, err
	}
	return Read(log, fs, os.Getenv, names...)
}

func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Mqtt.BrokerURL, "MQTT_BROKER_URL")
	setString(&c.Mqtt.Username, "MQTT_USERNAME")
	setString(&c.Mqtt.Password, "MQTT_PASSWORD")
	setString(&c.Mqtt.DownlinkTopic, "MQTT_DOWNLINK_TOPIC")
	setString(&c.Mqtt.UplinkTopic, "MQTT_UPLINK_TOPIC")
	if v := getenv("MQTT_DEVICE_IDS"); v != "" {
		c.Mqtt.DeviceIDs = splitList(v)
	}
	setString(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
}

func (c *Config) defaults() {
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = "smart-trashcans"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Report.Top <= 0 {
		c.Report.Top = 5
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
