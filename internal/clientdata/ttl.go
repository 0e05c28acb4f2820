package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Very stable data (rarely changes)
	TTLSymbolDetails = 30 * 24 * time.Hour // 30 days - Static company info

	// Quarterly financial data (updates with filings)
	TTLStatements = 45 * 24 * time.Hour // 45 days - Quarterly financial statements
	TTLEarnings   = 45 * 24 * time.Hour // 45 days - Quarterly earnings reports

	// Weekly-ish data (changes more frequently but not critical)
	TTLFundamentals = 7 * 24 * time.Hour // 7 days - Company overview, P/E, market cap
	TTLPeers        = 7 * 24 * time.Hour // 7 days - Industry peer listings

	// Daily data (time-sensitive signals)
	TTLNews = 24 * time.Hour // 1 day - News headlines

	// Short-lived data (changes frequently)
	TTLCurrentPrice = 10 * time.Minute // 10 minutes - Current price cache for batch operations
)
