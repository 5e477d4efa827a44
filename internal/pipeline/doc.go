// Package pipeline crawls the weekly anime calendar and the subject and
// episode pages it links to, reconciling the results into the store.
//
// A Runner executes one cycle at a time: the calendar crawl discovers this
// week's subjects, then each subject is refreshed independently when its
// detail or episode data is stale. Failures of one subject never abort the
// others; a calendar failure aborts the cycle.
package pipeline
