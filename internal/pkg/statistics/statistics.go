package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
)

const (
	CacheKeyPaymentsTotal = "statistics:payments:total"
	CacheKeyPaymentsDaily = "statistics:payments:daily:%s" // Format with date YYYY-MM-DD
	CacheKeySubsActive    = "statistics:subscriptions:active"
	CacheKeyUsers         = "statistics:users:total"
	CacheExpiration       = 30 * time.Minute
)

// StatisticsData holds the aggregate numbers shown on the stats endpoint
type StatisticsData struct {
	TodayPayments       int
	TotalPayments       int
	ActiveSubscriptions int
	TotalUsers          int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached aggregates are stale
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached aggregates when the interval elapsed
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Fehler beim Aktualisieren des Statistik-Caches: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next UpdateCacheIfNeeded call to refresh
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes all aggregates and writes them to the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalPayments int64
	if err := db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusSucceeded).Count(&totalPayments).Error; err != nil {
		log.Printf("Error counting total payments: %v", err)
		return err
	}

	var todayPayments int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Payment{}).
		Where("status = ? AND created_at BETWEEN ? AND ?", models.PaymentStatusSucceeded, todayStart, todayEnd).
		Count(&todayPayments).Error; err != nil {
		log.Printf("Error counting today's payments: %v", err)
		return err
	}

	var activeSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ? AND current_period_end > ?", models.SubscriptionStatusActive, time.Now()).
		Count(&activeSubs).Error; err != nil {
		log.Printf("Error counting active subscriptions: %v", err)
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyPaymentsTotal, strconv.FormatInt(totalPayments, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total payments: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyPaymentsDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayPayments, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's payments: %v", err)
		return err
	}

	if err := cache.Set(CacheKeySubsActive, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		log.Printf("Error caching active subscriptions: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total users: %v", err)
		return err
	}

	return nil
}

// GetTotalPayments returns the number of succeeded payments, cache first
func GetTotalPayments() int {
	val, err := cache.Get(CacheKeyPaymentsTotal)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.Payment{}).Where("status = ?", models.PaymentStatusSucceeded).Count(&count).Error; err != nil {
			log.Printf("Error counting total payments: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyPaymentsTotal, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching total payments: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTodayPayments returns the number of payments settled today, cache first
func GetTodayPayments() int {
	today := time.Now().Format("2006-01-02")
	dailyKey := fmt.Sprintf(CacheKeyPaymentsDaily, today)

	val, err := cache.Get(dailyKey)
	if err != nil {
		var count int64
		db := database.GetDB()
		todayStart, _ := time.Parse("2006-01-02", today)
		todayEnd := todayStart.Add(24 * time.Hour)

		if err := db.Model(&models.Payment{}).
			Where("status = ? AND created_at BETWEEN ? AND ?", models.PaymentStatusSucceeded, todayStart, todayEnd).
			Count(&count).Error; err != nil {
			log.Printf("Error counting today's payments: %v", err)
			return 0
		}

		if err := cache.Set(dailyKey, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching today's payments: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetActiveSubscriptions returns the number of currently entitled subscriptions
func GetActiveSubscriptions() int {
	val, err := cache.Get(CacheKeySubsActive)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.Subscription{}).
			Where("status = ? AND current_period_end > ?", models.SubscriptionStatusActive, time.Now()).
			Count(&count).Error; err != nil {
			log.Printf("Error counting active subscriptions: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeySubsActive, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching active subscriptions: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetTotalUsers returns the total number of users, cache first
func GetTotalUsers() int {
	val, err := cache.Get(CacheKeyUsers)
	if err != nil {
		var count int64
		db := database.GetDB()
		if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
			log.Printf("Error counting total users: %v", err)
			return 0
		}

		if err := cache.Set(CacheKeyUsers, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching total users: %v", err)
		}

		return int(count)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}

// GetStatistics returns all aggregates for the stats endpoint
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TodayPayments:       GetTodayPayments(),
		TotalPayments:       GetTotalPayments(),
		ActiveSubscriptions: GetActiveSubscriptions(),
		TotalUsers:          GetTotalUsers(),
	}
}
