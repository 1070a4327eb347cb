package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoEnvironment_AppliesDefaults(t *testing.T) {
	for _, name := range []string{
		ProjectEnvVar,
		CatalogInstanceEnvVar,
		CatalogDatabaseEnvVar,
		WorkTopicProjectEnvVar,
		WorkTopicEnvVar,
		WorkSubscriptionEnvVar,
		WorkTopicKMSKeyEnvVar,
	} {
		t.Setenv(name, "")
	}
	c := New()
	assert.Equal(t, "skia-public", c.ProjectID)
	assert.Equal(t, "cif", c.CatalogInstanceID)
	assert.Equal(t, "catalog", c.CatalogDatabaseID)
	assert.Equal(t, "skia-public", c.WorkTopicProjectID)
	assert.Equal(t, "cif-work", c.WorkTopicID)
	assert.Equal(t, "cif-work-worker", c.WorkTopicSubscriptionID)
	assert.Equal(t, "", c.WorkTopicKMSKeyName)
}

func TestNew_WorkTopicProjectDefaultsToCatalogProject(t *testing.T) {
	t.Setenv(ProjectEnvVar, "my-project")
	t.Setenv(WorkTopicProjectEnvVar, "")
	c := New()
	require.Equal(t, "my-project", c.ProjectID)
	assert.Equal(t, "my-project", c.WorkTopicProjectID)
}

func TestNew_ExplicitEnvironmentWins(t *testing.T) {
	t.Setenv(ProjectEnvVar, "my-project")
	t.Setenv(WorkTopicProjectEnvVar, "bus-project")
	t.Setenv(WorkTopicKMSKeyEnvVar, "projects/p/locations/l/keyRings/r/cryptoKeys/k")
	c := New()
	assert.Equal(t, "bus-project", c.WorkTopicProjectID)
	assert.Equal(t, "projects/p/locations/l/keyRings/r/cryptoKeys/k", c.WorkTopicKMSKeyName)
}

func TestDatabasePath_FormatsFullSpannerPath(t *testing.T) {
	t.Setenv(ProjectEnvVar, "my-project")
	t.Setenv(CatalogInstanceEnvVar, "cif")
	t.Setenv(CatalogDatabaseEnvVar, "catalog")
	c := New()
	assert.Equal(t, "projects/my-project/instances/cif/databases/catalog", c.DatabasePath())
}
