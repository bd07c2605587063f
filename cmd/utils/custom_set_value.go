package utils

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bodasure/bodasure-backend/internal/crashtracker"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/internal/storage"
	"github.com/bodasure/bodasure-backend/pkg/config"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

func SetConfigOptionLogLevel(co *config.ConfigOption) error {
	// parse string to logLevel object
	logLevelStr := viper.GetString(co.Name)
	logLevel, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		return fmt.Errorf("couldn't parse log level: %w", err)
	}

	// update the configKey
	key, ok := co.ConfigKey.(*logrus.Level)
	if !ok {
		return fmt.Errorf("configKey has an invalid type %T", co.ConfigKey)
	}
	*key = logLevel

	// Log for debugging
	if config.IsExplicitlySet(co) {
		log.Debugf("Setting log level to: %q", logLevel)
		log.DefaultLogger.SetLevel(*key)
	} else {
		log.Debugf("Using default log level: %q", logLevel)
	}
	return nil
}

func SetConfigOptionMessengerType(co *config.ConfigOption) error {
	senderType := viper.GetString(co.Name)

	messengerType, err := message.ParseMessengerType(senderType)
	if err != nil {
		return fmt.Errorf("couldn't parse messenger type: %w", err)
	}

	*(co.ConfigKey.(*message.MessengerType)) = messengerType
	return nil
}

// SetConfigOptionOptionalMessengerType is like SetConfigOptionMessengerType but
// tolerates an empty value, used for fallback providers that may be left unset.
func SetConfigOptionOptionalMessengerType(co *config.ConfigOption) error {
	senderType := viper.GetString(co.Name)
	if senderType == "" {
		return nil
	}
	return SetConfigOptionMessengerType(co)
}

func SetConfigOptionMessageChannel(co *config.ConfigOption) error {
	channelStr := viper.GetString(co.Name)

	channel, err := message.ParseMessageChannel(channelStr)
	if err != nil {
		return fmt.Errorf("couldn't parse message channel: %w", err)
	}

	*(co.ConfigKey.(*message.MessageChannel)) = channel
	return nil
}

func SetConfigOptionMetricType(co *config.ConfigOption) error {
	metricType := viper.GetString(co.Name)

	metricTypeParsed, err := monitor.ParseMetricType(metricType)
	if err != nil {
		return fmt.Errorf("couldn't parse metric type: %w", err)
	}

	*(co.ConfigKey.(*monitor.MetricType)) = metricTypeParsed
	return nil
}

func SetConfigOptionCrashTrackerType(co *config.ConfigOption) error {
	ctType := viper.GetString(co.Name)

	ctTypeParsed, err := crashtracker.ParseCrashTrackerType(ctType)
	if err != nil {
		return fmt.Errorf("couldn't parse crash tracker type: %w", err)
	}

	*(co.ConfigKey.(*crashtracker.CrashTrackerType)) = ctTypeParsed
	return nil
}

func SetConfigOptionEventBrokerType(co *config.ConfigOption) error {
	ebType := viper.GetString(co.Name)

	ebTypeParsed, err := events.ParseEventBrokerType(ebType)
	if err != nil {
		return fmt.Errorf("couldn't parse event broker type: %w", err)
	}

	*(co.ConfigKey.(*events.EventBrokerType)) = ebTypeParsed
	return nil
}

func SetConfigOptionKafkaSecurityProtocol(co *config.ConfigOption) error {
	protocol := viper.GetString(co.Name)

	protocolParsed, err := events.ParseKafkaSecurityProtocol(protocol)
	if err != nil {
		return fmt.Errorf("couldn't parse kafka security protocol: %w", err)
	}

	*(co.ConfigKey.(*events.KafkaSecurityProtocol)) = protocolParsed
	return nil
}

func SetConfigOptionStorageType(co *config.ConfigOption) error {
	storageType := viper.GetString(co.Name)

	storageTypeParsed, err := storage.ParseStorageType(storageType)
	if err != nil {
		return fmt.Errorf("couldn't parse storage type: %w", err)
	}

	*(co.ConfigKey.(*storage.StorageType)) = storageTypeParsed
	return nil
}

func SetConfigOptionURLString(co *config.ConfigOption) error {
	u := viper.GetString(co.Name)

	if u == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	_, err := url.ParseRequestURI(u)
	if err != nil {
		return fmt.Errorf("error parsing URL: %w", err)
	}

	key, ok := co.ConfigKey.(*string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string, but got a %T instead", co.ConfigKey)
	}
	*key = u

	return nil
}

func SetCorsAllowedOrigins(co *config.ConfigOption) error {
	corsAllowedOriginsOptions := viper.GetString(co.Name)

	if corsAllowedOriginsOptions == "" {
		return fmt.Errorf("cors allowed addresses cannot be empty")
	}

	corsAllowedOrigins := strings.Split(corsAllowedOriginsOptions, ",")

	// validate addresses
	for _, address := range corsAllowedOrigins {
		_, err := url.ParseRequestURI(address)
		if err != nil {
			return fmt.Errorf("error parsing cors addresses: %w", err)
		}
		if address == "*" {
			log.Warn(`The value "*" for the CORS Allowed Origins is too permissive and not recommended.`)
		}
	}

	key, ok := co.ConfigKey.(*[]string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string slice, but got a %T instead", co.ConfigKey)
	}
	*key = corsAllowedOrigins

	return nil
}

// SetConfigOptionStringList splits a comma-separated value into a string slice,
// used for broker URLs and similar lists.
func SetConfigOptionStringList(co *config.ConfigOption) error {
	listStr := viper.GetString(co.Name)

	key, ok := co.ConfigKey.(*[]string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string slice, but got a %T instead", co.ConfigKey)
	}

	if listStr == "" {
		*key = nil
		return nil
	}

	items := strings.Split(listStr, ",")
	for i, item := range items {
		items[i] = strings.TrimSpace(item)
	}
	*key = items

	return nil
}

// SetConfigOptionStringMap parses "KEY=value,KEY2=value2" pairs into a string
// map, used for the WhatsApp template SIDs keyed by notification event type.
func SetConfigOptionStringMap(co *config.ConfigOption) error {
	mapStr := viper.GetString(co.Name)

	key, ok := co.ConfigKey.(*map[string]string)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a string map, but got a %T instead", co.ConfigKey)
	}

	if mapStr == "" {
		*key = nil
		return nil
	}

	parsed := map[string]string{}
	for _, pair := range strings.Split(mapStr, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || k == "" || v == "" {
			return fmt.Errorf("invalid key=value pair %q", pair)
		}
		parsed[k] = v
	}
	*key = parsed

	return nil
}

// SetConfigOptionMinutesSinceMidnight parses a wall-clock "HH:MM" value into
// minutes since midnight, used for the quiet-hours window.
func SetConfigOptionMinutesSinceMidnight(co *config.ConfigOption) error {
	timeStr := viper.GetString(co.Name)

	hhStr, mmStr, found := strings.Cut(timeStr, ":")
	if !found {
		return fmt.Errorf("invalid time of day %q: expected HH:MM", timeStr)
	}

	hh, err := strconv.Atoi(hhStr)
	if err != nil || hh < 0 || hh > 23 {
		return fmt.Errorf("invalid hour in time of day %q", timeStr)
	}
	mm, err := strconv.Atoi(mmStr)
	if err != nil || mm < 0 || mm > 59 {
		return fmt.Errorf("invalid minute in time of day %q", timeStr)
	}

	key, ok := co.ConfigKey.(*int)
	if !ok {
		return fmt.Errorf("the expected type for this config key is an int, but got a %T instead", co.ConfigKey)
	}
	*key = hh*60 + mm

	return nil
}

// SetConfigOptionPercent validates an integer percentage in [0, 100].
func SetConfigOptionPercent(co *config.ConfigOption) error {
	percent := viper.GetInt(co.Name)

	if percent < 0 || percent > 100 {
		return fmt.Errorf("%s must be between 0 and 100, got %d", co.Name, percent)
	}

	key, ok := co.ConfigKey.(*int)
	if !ok {
		return fmt.Errorf("the expected type for this config key is an int, but got a %T instead", co.ConfigKey)
	}
	*key = percent

	return nil
}

// SetConfigOptionDuration parses a Go duration string ("30m", "24h").
func SetConfigOptionDuration(co *config.ConfigOption) error {
	durationStr := viper.GetString(co.Name)

	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", durationStr, err)
	}

	key, ok := co.ConfigKey.(*time.Duration)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a time.Duration, but got a %T instead", co.ConfigKey)
	}
	*key = duration

	return nil
}

// SetConfigOptionTimeLocation resolves an IANA time zone name.
func SetConfigOptionTimeLocation(co *config.ConfigOption) error {
	tzName := viper.GetString(co.Name)

	location, err := time.LoadLocation(tzName)
	if err != nil {
		return fmt.Errorf("loading time zone %q: %w", tzName, err)
	}

	key, ok := co.ConfigKey.(**time.Location)
	if !ok {
		return fmt.Errorf("the expected type for this config key is a *time.Location, but got a %T instead", co.ConfigKey)
	}
	*key = location

	return nil
}
