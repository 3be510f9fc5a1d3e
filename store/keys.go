package store

import "fmt"

// Key shapes are bit-exact per spec §3/§6.2 — other components assemble
// them through these helpers rather than formatting strings inline, so the
// layout only needs to change in one place.

// ScopeKey returns the aggregation partition for scope "ORG" or "APP".
func ScopeKey(orgID, appID string, scope string) string {
	if scope == "APP" && appID != "" {
		return fmt.Sprintf("ORG#%s#APP#%s", orgID, appID)
	}
	return fmt.Sprintf("ORG#%s", orgID)
}

// DayKey formats a YYYYMMDD day string into the canonical day-key.
func DayKey(yyyymmdd string) string {
	return "DAY#" + yyyymmdd
}

// ShardPartitionKey is the counter cell's partition key.
func ShardPartitionKey(scopeKey, label string, shardIndex int) string {
	return fmt.Sprintf("%s#LABEL#%s#SH#%d", scopeKey, label, shardIndex)
}

// TotalPartitionKey is the daily-total materialized view's partition key.
func TotalPartitionKey(scopeKey, label string) string {
	return fmt.Sprintf("%s#LABEL#%s", scopeKey, label)
}

// OrgConfigKey is the config-table key for an org's own record.
func OrgConfigKey(orgID string) (partition, sort string) {
	return "ORG#" + orgID, "#"
}

// AppConfigKey is the config-table key for an app nested under an org.
func AppConfigKey(orgID, appID string) (partition, sort string) {
	return "ORG#" + orgID, "APP#" + appID
}

// ProfileConfigKey is the config-table key for an inference profile.
func ProfileConfigKey(orgID, appID, label string) (partition, sort string) {
	return "ORG#" + orgID, fmt.Sprintf("APP#%s#PROFILE#%s", appID, label)
}
