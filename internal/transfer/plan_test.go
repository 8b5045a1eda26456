package transfer

import (
	"context"
	"testing"

	"github.com/stanstork/pgtransfer/internal/models"
	"github.com/stanstork/pgtransfer/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlan_CarriesColumnTypesForOrdering(t *testing.T) {
	src := newFakeDB()
	events := repository.TableRef{Schema: "public", Name: "events"}
	src.tables[events] = &fakeTable{
		columns: []models.ColumnInfo{
			{Name: "payload", Type: "json", UDTName: "json", Ordinal: 1},
			{Name: "id", Type: "bigint", UDTName: "int8", Ordinal: 2},
		},
		kind: models.TableKindView,
	}
	spec := models.TransferSpec{
		SourceSchema: "public",
		SourceTable:  "events",
		DestSchema:   "public",
		DestTable:    "events",
		Mode:         models.TransferModeFull,
	}

	p, err := newPlan(context.Background(), src, spec, today)
	require.NoError(t, err)

	q := p.batchQuery(100, nil, 200)
	assert.Equal(t, []string{"payload", "id"}, q.Columns)
	assert.Equal(t, []string{"json", "int8"}, q.ColumnTypes)
	assert.Empty(t, q.KeyColumns)
	assert.False(t, q.OrderByCTID, "views have no ctid")
	assert.EqualValues(t, 200, q.Offset)
}
