package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cyroid/cyroid/pkg/models"
)

const labDocument = `
version: "1.0"
name: acme-lab
description: two-tier web lab
networks:
  - name: dmz
    subnet: 10.0.1.0/24
    gateway: 10.0.1.1
    isolation_level: complete
vms:
  - hostname: web
    ip_address: 10.0.1.10
    network_name: dmz
    template_name: nginx
    cpu: 1
    ram_mb: 512
    disk_gb: 10
`

func TestParseBlueprint(t *testing.T) {
	bp, err := ParseBlueprint([]byte(labDocument))
	assert.NoError(t, err)

	assert.Equal(t, "1.0", bp.Version)
	assert.Equal(t, "acme-lab", bp.Name)
	assert.Len(t, bp.Networks, 1)
	assert.Equal(t, "10.0.1.0/24", bp.Networks[0].Subnet)
	assert.Equal(t, "complete", bp.Networks[0].IsolationLevel)
	assert.Len(t, bp.VMs, 1)
	assert.Equal(t, "nginx", bp.VMs[0].TemplateName)
	assert.Equal(t, 512, bp.VMs[0].RAMMB)
}

func TestParseBlueprintRejectsUnknownKeys(t *testing.T) {
	doc := `
version: "1.0"
name: typo-lab
networks: []
vms: []
hypervisor: kvm
`
	_, err := ParseBlueprint([]byte(doc))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParseBlueprintRejectsMalformedDocument(t *testing.T) {
	_, err := ParseBlueprint([]byte("networks: ["))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRenderBlueprintRoundTrips(t *testing.T) {
	env := newTestEnv(t)
	f := seedLab(t, env)

	exported, err := env.o.Export(context.Background(), f.rng.ID)
	assert.NoError(t, err)

	doc, err := exported.Render()
	assert.NoError(t, err)

	parsed, err := ParseBlueprint(doc)
	assert.NoError(t, err)
	assert.Equal(t, exported, parsed)
}

func TestParsedDocumentImports(t *testing.T) {
	env := newTestEnv(t)
	seedLab(t, env)
	ctx := context.Background()

	bp, err := ParseBlueprint([]byte(labDocument))
	assert.NoError(t, err)

	report, err := env.o.Import(ctx, bp, "user-9")
	assert.NoError(t, err)
	assert.Empty(t, report.Warnings)

	vms, err := env.repo.VMsByRange(ctx, report.Range.ID)
	assert.NoError(t, err)
	assert.Len(t, vms, 1)
	assert.Equal(t, "web", vms[0].Hostname)
}