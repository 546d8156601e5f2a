package gmaps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetailOpened(t *testing.T) {
	const (
		first  = "https://www.google.com/maps/place/Starbucks/data=!4m7!3m6!1s0x14a1bd3b1c3d3a2f:0x8c2a1e4e5b6f7a01!8m2"
		second = "https://www.google.com/maps/place/Starbucks/data=!4m7!3m6!1s0x14a1bd3b1c3d3a2f:0x8c2a1e4e5b6f7a02!8m2"
	)

	tests := []struct {
		name string
		href string
		prev detailView
		cur  detailView
		want bool
	}{
		{
			name: "first open",
			href: first,
			cur:  detailView{URL: first, Title: "Starbucks"},
			want: true,
		},
		{
			name: "same name, next branch shown",
			href: second,
			prev: detailView{URL: first, Title: "Starbucks"},
			cur:  detailView{URL: second, Title: "Starbucks"},
			want: true,
		},
		{
			name: "same name, previous branch still shown",
			href: second,
			prev: detailView{URL: first, Title: "Starbucks"},
			cur:  detailView{URL: first, Title: "Starbucks"},
			want: false,
		},
		{
			name: "title not rendered yet",
			href: second,
			prev: detailView{URL: first, Title: "Starbucks"},
			cur:  detailView{URL: second},
			want: false,
		},
		{
			name: "link without feature id, address changed",
			href: "/maps/place/Starbucks",
			prev: detailView{URL: first, Title: "Starbucks"},
			cur:  detailView{URL: second, Title: "Starbucks"},
			want: true,
		},
		{
			name: "link without feature id, nothing changed",
			href: "",
			prev: detailView{URL: first, Title: "Starbucks"},
			cur:  detailView{URL: first, Title: "Starbucks"},
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, detailOpened(tc.href, tc.prev, tc.cur))
		})
	}
}
