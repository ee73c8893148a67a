package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key holding a student's current login token
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:student:%d", studentID)
}

// ActivationDueKey is the sorted set of scheduled exams keyed by valid_from
func (r *CacheKeyStruct) ActivationDueKey() string {
	return "schedule:activation_due"
}

// ExpiryDueKey is the sorted set of active exams keyed by valid_till
func (r *CacheKeyStruct) ExpiryDueKey() string {
	return "schedule:expiry_due"
}

// ScheduleMonitorChannel returns the Redis PubSub channel for a schedule's session feed
func (r *CacheKeyStruct) ScheduleMonitorChannel(scheduleID string) string {
	return fmt.Sprintf("schedule:%s:monitor", scheduleID)
}

// ViolationQueueKey is the Redis list buffering violation records until the
// log worker persists them.
func (r *CacheKeyStruct) ViolationQueueKey() string {
	return "queue:violations"
}

var CacheKey = NewCacheKeyStruct()
