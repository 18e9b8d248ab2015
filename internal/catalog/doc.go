// Package catalog holds the catalog store implementations the workers write
// scraped items into. The catalog itself belongs to the surrounding system;
// these stores cover only the reads and writes the crawl pipeline needs.
package catalog
