package fitbit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivitiesFollowsPagination(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ActivityListPath, r.URL.Path)
		switch r.URL.Query().Get("offset") {
		case "0":
			assert.Equal(t, "2008-01-01", r.URL.Query().Get("afterDate"))
			assert.Equal(t, "desc", r.URL.Query().Get("sort"))
			assert.Equal(t, "2", r.URL.Query().Get("limit"))
			fmt.Fprintf(w, `{"activities":[{"logId":1},{"logId":2}],"pagination":{"next":"%s%s?afterDate=2008-01-01&offset=2&limit=2&sort=desc"}}`, srvURL, ActivityListPath)
		case "2":
			fmt.Fprint(w, `{"activities":[{"logId":3}],"pagination":{"next":""}}`)
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(t, srv, writeTestToken(t, t.TempDir(), time.Hour, "refresh"), &recordingSleep{})

	var ids []int64
	requests, err := c.Activities(context.Background(), ListOptions{AfterDate: "2008-01-01", PageSize: 2, Sort: "desc"}, func(a Activity) error {
		ids = append(ids, a.LogID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestActivitiesRelativeNextLink(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprintf(w, `{"activities":[{"logId":1}],"pagination":{"next":"%s?offset=1"}}`, ActivityListPath)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{"activities":[],"pagination":{}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, writeTestToken(t, t.TempDir(), time.Hour, "refresh"), &recordingSleep{})
	n := 0
	requests, err := c.Activities(context.Background(), ListOptions{AfterDate: "2020-01-01", PageSize: 100, Sort: "asc"}, func(Activity) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, n)
}

func TestActivitiesValidatesOptions(t *testing.T) {
	c := &Client{}
	_, err := c.Activities(context.Background(), ListOptions{PageSize: 0, Sort: "desc"}, nil)
	assert.Error(t, err)
	_, err = c.Activities(context.Background(), ListOptions{PageSize: 101, Sort: "desc"}, nil)
	assert.Error(t, err)
	_, err = c.Activities(context.Background(), ListOptions{PageSize: 10, Sort: "random"}, nil)
	assert.Error(t, err)
}

func TestActivityFieldHelpers(t *testing.T) {
	a := Activity{
		"logId":        float64(12345678901),
		"activityName": "Run",
		"distance":     "3.2",
		"hasGps":       "Yes",
		"tcxLink":      " https://api.fitbit.com/1/user/-/activities/42.tcx ",
	}
	assert.Equal(t, int64(12345678901), a.LogID())
	assert.Equal(t, "Run", a.Name())
	assert.InDelta(t, 3.2, a.Distance(), 1e-9)
	assert.True(t, a.HasGPS())
	assert.Equal(t, "https://api.fitbit.com/1/user/-/activities/42.tcx", a.TCXLink())

	assert.False(t, Activity{"hasGps": false}.HasGPS())
	assert.False(t, Activity{"hasGps": "no"}.HasGPS())
	assert.True(t, Activity{"hasGps": true}.HasGPS())
	assert.Zero(t, Activity{"distance": nil}.Distance())
	assert.Zero(t, Activity{"distance": "far"}.Distance())
	assert.Equal(t, "", Activity{"tcx_link": ""}.TCXLink())
	assert.Equal(t, "http://example.com/two.tcx", Activity{"tcx_link": "http://example.com/two.tcx"}.TCXLink())
}

func TestTCXID(t *testing.T) {
	id, ok := TCXID("https://api.fitbit.com/1/user/-/activities/12345.tcx")
	assert.True(t, ok)
	assert.Equal(t, "12345", id)

	id, ok = TCXID("https://api.fitbit.com/1/user/-/activities/777.TCX?x=1")
	assert.True(t, ok)
	assert.Equal(t, "777", id)

	_, ok = TCXID("https://example.com/foo")
	assert.False(t, ok)
	_, ok = TCXID("https://example.com/.tcx")
	assert.False(t, ok)
}

func TestActivityStartTime(t *testing.T) {
	tests := []struct {
		name      string
		activity  Activity
		wantYear  int
		wantMonth time.Month
		wantErr   bool
	}{
		{"original start with offset", Activity{"originalStartTime": "2019-01-03T23:30:00.000-08:00"}, 2019, time.January, false},
		{"zulu", Activity{"startTime": "2021-12-31T23:59:59Z"}, 2021, time.December, false},
		{"date only", Activity{"startDate": "2020-02-29"}, 2020, time.February, false},
		{"naive", Activity{"startDateTime": "2018-07-04T10:00:00"}, 2018, time.July, false},
		{"epoch seconds", Activity{"startTime": float64(1700000000)}, 2023, time.November, false},
		{"falls through unparseable", Activity{"originalStartTime": "", "startTime": "2022-05-01T00:00:00Z"}, 2022, time.May, false},
		{"missing", Activity{"logId": float64(1)}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.activity.StartTime()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantYear, got.Year())
			assert.Equal(t, tt.wantMonth, got.Month())
		})
	}
}
