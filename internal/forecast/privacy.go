package forecast

// CheckPrivacy rejects any aggregate whose underlying population count is
// below min. Aggregates are never partially used: one violation fails the
// whole set.
func CheckPrivacy(aggs []EthnicityAggregate, min int64) error {
	for _, a := range aggs {
		if a.PopulationCount < min {
			return &PrivacyViolationError{RegionID: a.RegionID, Group: a.Group, Count: a.PopulationCount, Min: min}
		}
	}
	return nil
}
