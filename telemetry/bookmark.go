package telemetry

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/evacsim/config"
)

// BookmarkType identifies the kind of automatically detected event.
type BookmarkType string

const (
	BookmarkMassCasualty   BookmarkType = "mass_casualty"
	BookmarkEvacStall      BookmarkType = "evac_stall"
	BookmarkHazardSpike    BookmarkType = "hazard_spike"
	BookmarkRapidClearance BookmarkType = "rapid_clearance"
)

// Bookmark represents an automatically triggered highlight in a run's
// timeline, useful for reviewing long simulations without replaying every
// step.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Step        int          `csv:"step"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark", "type", string(b.Type), "step", b.Step, "description", b.Description)
}

// BookmarkDetector watches a rolling window of WindowStats and flags
// noteworthy moments: mass-casualty windows, stalled evacuations, hazard
// spikes, and unusually fast clearances. Adapted from the teacher's
// ecosystem BookmarkDetector: same rolling-history-plus-threshold-check
// shape, retuned to evacuation metrics.
type BookmarkDetector struct {
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	stallWindowCount int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		if b := bd.checkMassCasualty(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkEvacStall(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkHazardSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkRapidClearance(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkMassCasualty(stats WindowStats) *Bookmark {
	cfg := config.Cfg().Bookmarks.MassCasualty
	if stats.CasualtiesInWindow >= cfg.MinCasualties {
		return &Bookmark{
			Type:        BookmarkMassCasualty,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("%d casualties in one window", stats.CasualtiesInWindow),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkEvacStall(stats WindowStats) *Bookmark {
	cfg := config.Cfg().Bookmarks.EvacStall

	if stats.EvacuationsInWindow == 0 && stats.AgentsRemaining > 0 {
		bd.stallWindowCount++
	} else {
		bd.stallWindowCount = 0
	}

	if bd.stallWindowCount == cfg.StallWindows {
		return &Bookmark{
			Type:        BookmarkEvacStall,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("no evacuations for %d consecutive windows, %d agents remaining", cfg.StallWindows, stats.AgentsRemaining),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkHazardSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}
	cfg := config.Cfg().Bookmarks.HazardSpike

	var sum float64
	for _, h := range history {
		sum += h.MeanHazard
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return nil
	}

	if stats.MeanHazard > avg*cfg.Multiplier {
		return &Bookmark{
			Type:        BookmarkHazardSpike,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("mean hazard %.2f is %.1fx rolling average (%.2f)", stats.MeanHazard, stats.MeanHazard/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkRapidClearance(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}
	cfg := config.Cfg().Bookmarks.RapidClearance

	var sum float64
	for _, h := range history {
		sum += float64(h.EvacuationsInWindow)
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return nil
	}

	if float64(stats.EvacuationsInWindow) > avg*cfg.Multiplier && stats.EvacuationsInWindow >= cfg.MinEvacs {
		return &Bookmark{
			Type:        BookmarkRapidClearance,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("%d evacuations is %.1fx rolling average (%.2f)", stats.EvacuationsInWindow, float64(stats.EvacuationsInWindow)/avg, avg),
		}
	}
	return nil
}
