// Package aggregate folds checkin histories into grouped summaries.
// Every function is pure: inputs are never mutated and output order follows first appearance.
package aggregate

import (
	"time"

	"github.com/ourea-as/meadstats-api/internal/records"
)

// Bucket pairs a grouping key with its accumulated value.
type Bucket[K comparable, A any] struct {
	Key K
	Acc A
}

// Fold groups items by key in first-seen order and accumulates each group with add.
func Fold[T any, K comparable, A any](items []T, key func(T) K, add func(A, T) A) []Bucket[K, A] {
	buckets := make([]Bucket[K, A], 0)
	index := make(map[K]int)
	for _, item := range items {
		k := key(item)
		position, ok := index[k]
		if !ok {
			position = len(buckets)
			index[k] = position
			var zero A
			buckets = append(buckets, Bucket[K, A]{Key: k, Acc: zero})
		}
		buckets[position].Acc = add(buckets[position].Acc, item)
	}
	return buckets
}

// Group is a keyed count with the mean of its non-zero ratings.
type Group[K comparable] struct {
	Key           K
	Count         int
	AverageRating float64
}

type ratingSample struct {
	count   int
	ratings []float64
}

// GroupBy counts items per key and averages their ratings with SafeMean.
func GroupBy[T any, K comparable](items []T, key func(T) K, rating func(T) float64) []Group[K] {
	buckets := Fold(items, key, func(sample ratingSample, item T) ratingSample {
		sample.count++
		sample.ratings = append(sample.ratings, rating(item))
		return sample
	})
	groups := make([]Group[K], 0, len(buckets))
	for _, bucket := range buckets {
		groups = append(groups, Group[K]{
			Key:           bucket.Key,
			Count:         bucket.Acc.count,
			AverageRating: SafeMean(bucket.Acc.ratings),
		})
	}
	return groups
}

// SafeMean averages values ignoring zeros, the unrated sentinel. It returns 0 when nothing is left.
func SafeMean(values []float64) float64 {
	sum := 0.0
	n := 0
	for _, value := range values {
		if value == 0 {
			continue
		}
		sum += value
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// naive returns the wall clock of a stored first_had timestamp.
func naive(t time.Time) time.Time {
	return t.UTC()
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	weekday := int(naive(t).Weekday())
	if weekday == 0 {
		return 7
	}
	return weekday
}

func checkinRating(checkin records.Checkin) float64 {
	return checkin.Rating
}

// ByWeekday groups checkins by ISO weekday of first_had.
func ByWeekday(checkins []records.Checkin) []Group[int] {
	return GroupBy(checkins, func(c records.Checkin) int { return ISOWeekday(c.FirstHad) }, checkinRating)
}

// ByHour groups checkins by hour of day of first_had.
func ByHour(checkins []records.Checkin) []Group[int] {
	return GroupBy(checkins, func(c records.Checkin) int { return naive(c.FirstHad).Hour() }, checkinRating)
}

// ByMonth groups checkins by calendar month of first_had.
func ByMonth(checkins []records.Checkin) []Group[int] {
	return GroupBy(checkins, func(c records.Checkin) int { return int(naive(c.FirstHad).Month()) }, checkinRating)
}

// ByYear groups checkins by calendar year of first_had.
func ByYear(checkins []records.Checkin) []Group[int] {
	return GroupBy(checkins, func(c records.Checkin) int { return naive(c.FirstHad).Year() }, checkinRating)
}
