package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/repository"
	"smmpanel/services/testutil"
)

func newTestCatalog(t *testing.T) (*Catalog, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Service{})
	return NewCatalog(CatalogParams{DB: db, Services: repository.ProvideStore[Service](db)}), db
}

func seedServices(t *testing.T, db *gorm.DB) {
	t.Helper()
	rows := []Service{
		{ID: "s1", ProviderID: "p1", ExternalID: "1", Name: "IG Followers", Category: "Instagram", Rate: 10, Min: 100, Max: 1000, Status: StatusActive, Margin: 20},
		{ID: "s2", ProviderID: "p1", ExternalID: "2", Name: "IG Likes", Category: "Instagram", Rate: 5, Min: 10, Max: 500, Status: StatusActive},
		{ID: "s3", ProviderID: "p1", ExternalID: "3", Name: "Old Service", Category: "YouTube", Rate: 1, Min: 1, Max: 10, Status: StatusInactive},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}
}

func TestListPublicFiltersInactive(t *testing.T) {
	c, db := newTestCatalog(t)
	seedServices(t, db)

	views, err := c.ListPublic(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		require.NotEqual(t, "Old Service", v.Name)
	}
}

func TestListPublicByCategory(t *testing.T) {
	c, db := newTestCatalog(t)
	seedServices(t, db)

	views, err := c.ListPublic(context.Background(), "Instagram")
	require.NoError(t, err)
	require.Len(t, views, 2)

	views, err = c.ListPublic(context.Background(), "YouTube")
	require.NoError(t, err)
	require.Empty(t, views)
}

func TestListPublicAppliesMargin(t *testing.T) {
	c, db := newTestCatalog(t)
	seedServices(t, db)

	views, err := c.ListPublic(context.Background(), "Instagram")
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, v := range views {
		byName[v.Name] = v.Rate
	}
	require.InDelta(t, 12.0, byName["IG Followers"], 1e-9)
	require.InDelta(t, 5.0, byName["IG Likes"], 1e-9)
}

func TestUpdateEditsCuratedFields(t *testing.T) {
	c, db := newTestCatalog(t)
	seedServices(t, db)

	name := "Premium IG Followers"
	status := StatusInactive
	row, err := c.Update(context.Background(), "s1", &UpdateServiceRequest{Name: &name, Status: &status})
	require.NoError(t, err)
	require.Equal(t, "Premium IG Followers", row.Name)
	require.Equal(t, StatusInactive, row.Status)

	var fresh Service
	require.NoError(t, db.First(&fresh, "id = ?", "s1").Error)
	require.Equal(t, "Premium IG Followers", fresh.Name)
}

func TestUpdateValidation(t *testing.T) {
	c, db := newTestCatalog(t)
	seedServices(t, db)

	bad := Status("archived")
	_, err := c.Update(context.Background(), "s1", &UpdateServiceRequest{Status: &bad})
	require.Error(t, err)

	margin := -5.0
	_, err = c.Update(context.Background(), "s1", &UpdateServiceRequest{Margin: &margin})
	require.Error(t, err)

	_, err = c.Update(context.Background(), "missing", &UpdateServiceRequest{})
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}
