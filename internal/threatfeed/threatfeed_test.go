package threatfeed

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

type countingSource struct {
	calls int
	lists *AllowDenyLists
	err   error
}

func (s *countingSource) Fetch(context.Context) (*AllowDenyLists, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.lists, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisCacheFetchesUpstreamOnceWithinTTL(t *testing.T) {
	client := newTestRedis(t)
	src := &countingSource{lists: &AllowDenyLists{AllowCIDRs: []*net.IPNet{mustCIDR(t, "10.0.0.0/8")}}}
	cache := NewRedisCache(src, client, "threatfeed:test", time.Minute, zerolog.Nop())

	lists1, err := cache.Fetch(context.Background())
	require.NoError(t, err)
	lists2, err := cache.Fetch(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, src.calls)
	require.Len(t, lists1.AllowCIDRs, 1)
	require.Len(t, lists2.AllowCIDRs, 1)
}

func TestRedisCacheFallsBackToLastGoodOnUpstreamFailure(t *testing.T) {
	client := newTestRedis(t)
	src := &countingSource{lists: &AllowDenyLists{DenyCIDRs: []*net.IPNet{mustCIDR(t, "1.2.3.0/24")}}}
	cache := NewRedisCache(src, client, "threatfeed:test2", time.Millisecond, zerolog.Nop())

	_, err := cache.Fetch(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Del(context.Background(), "threatfeed:test2").Err())
	src.err = errors.New("upstream unavailable")
	lists, err := cache.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, lists.DenyCIDRs, 1)
}

func TestRedisCacheErrorsWithNoLastGoodAndUpstreamFailure(t *testing.T) {
	client := newTestRedis(t)
	src := &countingSource{err: errors.New("upstream unavailable")}
	cache := NewRedisCache(src, client, "threatfeed:test3", time.Minute, zerolog.Nop())

	_, err := cache.Fetch(context.Background())
	require.Error(t, err)
}

func TestStaticSourceReturnsConfiguredLists(t *testing.T) {
	src := StaticSource{Lists: AllowDenyLists{AllowCIDRs: []*net.IPNet{mustCIDR(t, "192.168.0.0/16")}}}
	lists, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, lists.AllowCIDRs, 1)
}

func TestParseCIDRsAcceptsBareIP(t *testing.T) {
	nets, err := ParseCIDRs([]string{"8.8.8.8", "10.0.0.0/8"})
	require.NoError(t, err)
	require.Len(t, nets, 2)
	require.Equal(t, "8.8.8.8/32", nets[0].String())
}

func TestParseCIDRsRejectsGarbage(t *testing.T) {
	_, err := ParseCIDRs([]string{"not-an-ip"})
	require.Error(t, err)
}
