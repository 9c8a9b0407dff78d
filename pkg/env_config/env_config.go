// Package env_config reads process-wide feature toggles from the
// environment at startup, logging each resolved value once.
package env_config

import (
	"os"

	"github.com/rs/zerolog/log"
)

var (
	// USE_REMOTE_SEQUENCE_STORE selects a Redis- or Minio-backed
	// SequenceStore (pkg/snapshot_store) over the local sequences.json
	// file, so a task restarted on a different host can recover its
	// sequence chain.
	USE_REMOTE_SEQUENCE_STORE = checkUseRemoteSequenceStore()
	// REMOTE_SEQUENCE_STORE_BACKEND picks which remote backing to use
	// when USE_REMOTE_SEQUENCE_STORE is set: "redis" or "minio".
	REMOTE_SEQUENCE_STORE_BACKEND = checkRemoteSequenceStoreBackend()
)

func checkUseRemoteSequenceStore() bool {
	v := os.Getenv("USE_REMOTE_SEQUENCE_STORE")
	use := v == "true" || v == "1"
	log.Debug().Str("env", v).Bool("use_remote_sequence_store", use).Msg("env_config")
	return use
}

func checkRemoteSequenceStoreBackend() string {
	v := os.Getenv("REMOTE_SEQUENCE_STORE_BACKEND")
	if v == "" {
		v = "redis"
	}
	log.Debug().Str("remote_sequence_store_backend", v).Msg("env_config")
	return v
}
