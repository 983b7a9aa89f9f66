package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func parsePaginationForTest(t *testing.T, query string) PaginationParams {
	t.Helper()

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		params := ParsePagination(c)
		return c.JSON(fiber.Map{
			"page":   params.Page,
			"limit":  params.Limit,
			"offset": params.Offset,
		})
	})

	path := "/"
	if query != "" {
		path = fmt.Sprintf("/?%s", query)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("pagination request failed for query %q: %v", query, err)
	}
	defer resp.Body.Close()

	var parsed PaginationParams
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode pagination response for query %q: %v", query, err)
	}

	return parsed
}

func TestParsePagination(t *testing.T) {
	testCases := []struct {
		name       string
		query      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{name: "user list defaults", query: "", wantPage: 1, wantLimit: defaultPageLimit, wantOffset: 0},
		{name: "second page of twenty", query: "page=2&limit=20", wantPage: 2, wantLimit: 20, wantOffset: 20},
		{name: "negative page falls back to first", query: "page=-4&limit=20", wantPage: 1, wantLimit: 20, wantOffset: 0},
		{name: "non numeric page", query: "page=last", wantPage: 1, wantLimit: defaultPageLimit, wantOffset: 0},
		{name: "zero limit uses default", query: "page=2&limit=0", wantPage: 2, wantLimit: defaultPageLimit, wantOffset: defaultPageLimit},
		{name: "limit at the cap", query: "limit=200", wantPage: 1, wantLimit: maxPageLimit, wantOffset: 0},
		{name: "limit above the cap", query: "page=2&limit=10000", wantPage: 2, wantLimit: maxPageLimit, wantOffset: maxPageLimit},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := parsePaginationForTest(t, tc.query)

			if got.Page != tc.wantPage {
				t.Fatalf("expected page=%d, got %d", tc.wantPage, got.Page)
			}
			if got.Limit != tc.wantLimit {
				t.Fatalf("expected limit=%d, got %d", tc.wantLimit, got.Limit)
			}
			if got.Offset != tc.wantOffset {
				t.Fatalf("expected offset=%d, got %d", tc.wantOffset, got.Offset)
			}
		})
	}
}

type pageRow struct {
	ID       uint
	Position int
}

func TestApplyPagination(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&pageRow{}); err != nil {
		t.Fatalf("failed automigrating: %v", err)
	}
	for i := 1; i <= 7; i++ {
		if err := db.Create(&pageRow{Position: i}).Error; err != nil {
			t.Fatalf("failed inserting row %d: %v", i, err)
		}
	}

	testCases := []struct {
		page          int
		wantPositions []int
	}{
		{page: 1, wantPositions: []int{1, 2, 3}},
		{page: 2, wantPositions: []int{4, 5, 6}},
		{page: 3, wantPositions: []int{7}},
		{page: 4, wantPositions: nil},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("page %d of three", tc.page), func(t *testing.T) {
			params := PaginationParams{Page: tc.page, Limit: 3, Offset: (tc.page - 1) * 3}
			var rows []pageRow
			if err := ApplyPagination(db.Order("position ASC"), params).Find(&rows).Error; err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if len(rows) != len(tc.wantPositions) {
				t.Fatalf("expected %d rows, got %d", len(tc.wantPositions), len(rows))
			}
			for i, row := range rows {
				if row.Position != tc.wantPositions[i] {
					t.Fatalf("expected position %d at %d, got %d", tc.wantPositions[i], i, row.Position)
				}
			}
		})
	}

	t.Run("envelope reports three pages for seven rows", func(t *testing.T) {
		app := fiber.New()
		app.Get("/rows", func(c *fiber.Ctx) error {
			p := ParsePagination(c)
			var total int64
			if err := db.Model(&pageRow{}).Count(&total).Error; err != nil {
				return err
			}
			var rows []pageRow
			if err := ApplyPagination(db.Order("position ASC"), p).Find(&rows).Error; err != nil {
				return err
			}
			return Paginated(c, rows, p.Page, p.Limit, total)
		})

		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/rows?page=3&limit=3", nil), -1)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Data       []pageRow `json:"data"`
			Pagination struct {
				Page       int   `json:"page"`
				Total      int64 `json:"total"`
				TotalPages int   `json:"totalPages"`
			} `json:"pagination"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("failed decoding body: %v", err)
		}
		if body.Pagination.Total != 7 || body.Pagination.TotalPages != 3 || body.Pagination.Page != 3 {
			t.Fatalf("unexpected pagination metadata: %+v", body.Pagination)
		}
		if len(body.Data) != 1 || body.Data[0].Position != 7 {
			t.Fatalf("expected only the seventh row, got %+v", body.Data)
		}
	})
}
