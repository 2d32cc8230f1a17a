// Package ratelimit holds the two limiters in front of the admin API.
//
// IPLimiter is a token bucket per client IP applied to every /api request.
// It is in-memory and single-instance, meant as basic abuse prevention in
// front of an upstream WAF.
//
// A Window counts login attempts per client identity in a true sliding
// window (5 attempts per 15 minutes by default). MemoryWindow keeps the
// attempt log in process, RedisWindow keeps it in a sorted set so several
// instances share one budget.
package ratelimit
