// Package research provides the network-backed research tools.
//
// Tools:
//   - webSearch: DuckDuckGo HTML search, usable for any category
//   - newsFeed: Google News RSS search for news and trends
//   - yahooFinance: Yahoo Finance quotes for the financials category
//
// Every tool can be wrapped with Cached, which memoises records per
// category and parameters for a TTL.
package research
