// Package crawler holds the model shared by the harvest and normalize stages:
// case records, date ranges, categories, the storage and fetch interfaces,
// and the error taxonomy.
package crawler
