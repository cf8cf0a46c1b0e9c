package main

import (
	"io"

	"github.com/diwise/eav-store/internal/pkg/application/datastore"
	"github.com/prometheus/client_golang/prometheus"
)

type FlagType int
type FlagMap map[FlagType]string

const (
	listenAddress FlagType = iota
	servicePort
	metricsPort

	configPath
	opaPath

	storageDriver
	storagePath

	logFormat
)

type AppConfig struct {
	storeConfig io.ReadCloser
	opaConfig   io.ReadCloser

	cfg        *datastore.Config
	registerer prometheus.Registerer

	publicPort  string
	metricsPort string
}
