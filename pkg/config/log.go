// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package config

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

const logFileMaxSize = 10 * 1024 * 1024         // 10MB
const logDateFormat = "2006-01-02 15:04:05 MST" // see time.Format for format syntax

var validLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}, "critical": {}, "off": {},
}

// buildLoggerConfig returns the seelog XML configuration: console output and, when
// logFile is set, a size-rotated file
func buildLoggerConfig(logLevel, logFile string) (string, error) {
	logLevel = strings.ToLower(logLevel)
	if _, ok := validLevels[logLevel]; !ok {
		return "", fmt.Errorf("unknown log level %q", logLevel)
	}

	configTemplate := `<seelog minlevel="%s">
    <outputs formatid="common">
        <console />`
	if logFile != "" {
		configTemplate += `<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | WRITE-PROBE | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`

	if logFile != "" {
		return fmt.Sprintf(configTemplate, logLevel, logFile, logFileMaxSize, logDateFormat), nil
	}
	return fmt.Sprintf(configTemplate, logLevel, logDateFormat), nil
}

func newLogger(logLevel, logFile string) (seelog.LoggerInterface, error) {
	cfg, err := buildLoggerConfig(logLevel, logFile)
	if err != nil {
		return nil, err
	}
	return seelog.LoggerFromConfigAsString(cfg)
}

// SetupLogger sets up the default logger
func SetupLogger(logLevel, logFile string) error {
	logger, err := newLogger(logLevel, logFile)
	if err != nil {
		return err
	}
	log.SetupLogger(logger, strings.ToLower(logLevel))
	return nil
}

// ChangeLogLevel swaps the default logger for one at logLevel. The logger set up
// before is kept when logLevel is invalid.
func ChangeLogLevel(logLevel, logFile string) error {
	previous, err := log.GetLogLevel()
	if err != nil {
		return err
	}
	logger, err := newLogger(logLevel, logFile)
	if err != nil {
		return err
	}
	if err := log.ChangeLogLevel(logger, logLevel); err != nil {
		logger.Close()
		return err
	}
	if previous.String() != strings.ToLower(logLevel) {
		log.Infof("log level changed from %s to %s", previous, strings.ToLower(logLevel))
	}
	return nil
}
