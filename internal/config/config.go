// Package config loads the daemon's configuration: the line-oriented
// "key value" file of SPEC_FULL.md §6, merged with CLI flag overrides
// (CLI wins), unmarshaled and validated the way the teacher's
// music.Config / ValidateConfig does it with viper and
// go-playground/validator.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config mirrors the recognized configuration keys of §6.
type Config struct {
	RollLogFile     string `mapstructure:"roll_logfile" validate:"required"`
	RollLogLevel    string `mapstructure:"roll_loglevel" validate:"required"`
	LogTZ           string `mapstructure:"log_tz" validate:"omitempty,oneof=gmt local"`
	RollSleepTime   int    `mapstructure:"roll_sleeptime" validate:"omitempty,gte=10"`
	RollUsername    string `mapstructure:"roll_username"`
	RollLoadZone    bool   `mapstructure:"roll_loadzone"`
	RNDC            string `mapstructure:"rndc" validate:"required"`
	RNDCOpts        string `mapstructure:"rndcopts"`
	KeyArch         string `mapstructure:"keyarch"`
	RollChk         string `mapstructure:"rollchk"`
	ZoneSigner      string `mapstructure:"zonesigner" validate:"required"`
	AdminEmail      string `mapstructure:"admin-email"`
	RollAuto        bool   `mapstructure:"roll_auto"`
	RollProvider    string `mapstructure:"roll_provider" validate:"omitempty,oneof=dummy gandi.net"`
	RollProviderKey string `mapstructure:"roll_provider_key"`
	KSKLife         int    `mapstructure:"ksklife"`
	ZSKLife         int    `mapstructure:"zsklife"`
	KSKLength       int    `mapstructure:"ksklength"`
	ZSKLength       int    `mapstructure:"zsklength"`
	Algorithm       string `mapstructure:"algorithm"`
	Random          string `mapstructure:"random"`
	UseNSEC3        bool   `mapstructure:"usensec3"`
	NSEC3Iter       int    `mapstructure:"nsec3iter"`
	NSEC3Salt       string `mapstructure:"nsec3salt"`
	NSEC3OptOut     bool   `mapstructure:"nsec3optout"`
	EndTime         string `mapstructure:"endtime"`
	LifespanMin     int    `mapstructure:"lifespan-min"`
	LifespanMax     int    `mapstructure:"lifespan-max"`
	ArchiveDir      string `mapstructure:"archivedir"`
	SaveKeys        bool   `mapstructure:"savekeys"`
	KSKCount        int    `mapstructure:"kskcount"`
	ZSKCount        int    `mapstructure:"zskcount"`
	ZoneErrors      int    `mapstructure:"zone_errors"`
}

var defaults = map[string]interface{}{
	"roll_logfile":   "/var/log/dnssec-tools/pyrollerd.log",
	"roll_loglevel":  "info",
	"log_tz":         "gmt",
	"roll_sleeptime": 60,
	"roll_auto":      false,
	"roll_provider":  "dummy",
	"admin-email":    "nomail",
}

// ParseFile reads the line-oriented "key value" configuration file: `#`
// or `;` start a comment, everything else is the first whitespace-run
// delimited token as key and the remainder (trimmed) as value. This is
// an explicit external file-format contract (§6), so it is parsed with
// the standard library rather than a format viper understands natively.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := fields[0]
		out[key] = strings.TrimSpace(strings.TrimPrefix(line, key))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return out, nil
}

// Load builds a Config from the config file at path overlaid with cli
// (CLI flags win, per §6), then validates it.
func Load(path string, cli map[string]string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		fileVals, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		for k, val := range fileVals {
			v.Set(k, val)
		}
	}
	for k, val := range cli {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
