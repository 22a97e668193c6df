package model

import (
	"errors"
	"math"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestPaginationValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		p       Pagination
		wantErr error
	}{
		{"unpaginated", Pagination{}, nil},
		{"first page", Pagination{Page: intPtr(1), PageLimit: intPtr(10)}, nil},
		{"page only", Pagination{Page: intPtr(1)}, ErrInvalidParameters},
		{"zero page", Pagination{Page: intPtr(0), PageLimit: intPtr(10)}, ErrInvalidParameters},
		{"negative limit", Pagination{Page: intPtr(1), PageLimit: intPtr(-1)}, ErrInvalidParameters},
		{"offset overflows", Pagination{Page: intPtr(math.MaxInt/2 + 2), PageLimit: intPtr(2)}, ErrInvalidParameters},
		{"huge page small limit", Pagination{Page: intPtr(math.MaxInt), PageLimit: intPtr(1)}, nil},
		{"huge limit", Pagination{Page: intPtr(1), PageLimit: intPtr(math.MaxInt)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.p.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPaginateLargeValues(t *testing.T) {
	t.Parallel()
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name string
		p    Pagination
		want int
	}{
		{"second page", Pagination{Page: intPtr(2), PageLimit: intPtr(2)}, 2},
		{"last partial page", Pagination{Page: intPtr(3), PageLimit: intPtr(2)}, 1},
		{"past the end", Pagination{Page: intPtr(math.MaxInt / 2), PageLimit: intPtr(2)}, 0},
		{"limit near max int", Pagination{Page: intPtr(1), PageLimit: intPtr(math.MaxInt)}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.p.Validate(); err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			page := Paginate(items, tt.p)
			if got := len(page.Items); got != tt.want {
				t.Errorf("len(Items) = %v, want %v", got, tt.want)
			}
			if page.TotalNumber != len(items) {
				t.Errorf("TotalNumber = %v, want %v", page.TotalNumber, len(items))
			}
		})
	}
}
