// Package config loads the per-deployment CIF configuration from the
// environment.
package config

import (
	"fmt"
	"os"
)

const (
	// ProjectEnvVar names the GCP project that hosts the catalog.
	ProjectEnvVar = "GCP_PROJECT"

	// CatalogInstanceEnvVar names the Spanner instance holding the catalog
	// database.
	CatalogInstanceEnvVar = "CIF_CATALOG_INSTANCE_ID"

	// CatalogDatabaseEnvVar names the Spanner database holding the catalog.
	CatalogDatabaseEnvVar = "CIF_CATALOG_DATABASE_ID"

	// WorkTopicProjectEnvVar names the GCP project that hosts the work topic.
	// Defaults to the catalog project.
	WorkTopicProjectEnvVar = "CIF_WORK_TOPIC_PROJECT_ID"

	// WorkTopicEnvVar names the Pub/Sub topic deferred work is published to.
	WorkTopicEnvVar = "CIF_WORK_TOPIC_ID"

	// WorkSubscriptionEnvVar names the subscription workers consume.
	WorkSubscriptionEnvVar = "CIF_WORK_TOPIC_SUBSCRIPTION_ID"

	// WorkTopicKMSKeyEnvVar optionally names a Cloud KMS key used to encrypt
	// work topic messages. Empty means Google-managed encryption.
	WorkTopicKMSKeyEnvVar = "CIF_WORK_TOPIC_KMS_KEY_NAME"
)

// InstanceConfig collects everything a CIF process needs to find its catalog
// and work topic.
type InstanceConfig struct {
	ProjectID               string
	CatalogInstanceID       string
	CatalogDatabaseID       string
	WorkTopicProjectID      string
	WorkTopicID             string
	WorkTopicSubscriptionID string
	WorkTopicKMSKeyName     string
}

// New reads the InstanceConfig from the environment, applying defaults for
// unset variables.
func New() InstanceConfig {
	project := fromEnv(ProjectEnvVar, "skia-public")
	return InstanceConfig{
		ProjectID:               project,
		CatalogInstanceID:       fromEnv(CatalogInstanceEnvVar, "cif"),
		CatalogDatabaseID:       fromEnv(CatalogDatabaseEnvVar, "catalog"),
		WorkTopicProjectID:      fromEnv(WorkTopicProjectEnvVar, project),
		WorkTopicID:             fromEnv(WorkTopicEnvVar, "cif-work"),
		WorkTopicSubscriptionID: fromEnv(WorkSubscriptionEnvVar, "cif-work-worker"),
		WorkTopicKMSKeyName:     fromEnv(WorkTopicKMSKeyEnvVar, ""),
	}
}

// DatabasePath returns the fully qualified Spanner database path of the
// catalog.
func (c InstanceConfig) DatabasePath() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.ProjectID, c.CatalogInstanceID, c.CatalogDatabaseID)
}

func fromEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
