package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/profcard/syncworker/internal/authstore"
	"github.com/profcard/syncworker/internal/blob"
	"github.com/profcard/syncworker/internal/config"
	"github.com/profcard/syncworker/internal/locker"
	"github.com/profcard/syncworker/internal/logging"
	"github.com/profcard/syncworker/internal/queue"
	"github.com/profcard/syncworker/internal/scheduler"
	"github.com/profcard/syncworker/internal/userdb"
	"github.com/profcard/syncworker/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncworker",
		Short: "Per-owner changelog apply worker",
		Long:  "Drains the changelog task queue once, applying each owner's edit batch to their snapshot under a distributed per-owner lock, then exits.",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("aws-region", defaults.GetString("aws.region"), "AWS region")
	cmd.PersistentFlags().String("queue-url", defaults.GetString("queue.url"), "SQS queue URL")
	cmd.PersistentFlags().String("snapshot-bucket", defaults.GetString("snapshot.bucket"), "S3 bucket holding per-owner snapshots")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the lock coordinator")
	cmd.PersistentFlags().String("authdb-dsn", defaults.GetString("authdb.dsn"), "Authoritative store MySQL DSN")
	cmd.PersistentFlags().String("lock-namespace", defaults.GetString("lock.namespace"), "Lock key namespace")
	cmd.PersistentFlags().Int("dispatch-workers", defaults.GetInt("dispatch.workers"), "Concurrent task workers per batch")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "aws.region", "aws-region")
	bindFlag(cmd, "queue.url", "queue-url")
	bindFlag(cmd, "snapshot.bucket", "snapshot-bucket")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "authdb.dsn", "authdb-dsn")
	bindFlag(cmd, "lock.namespace", "lock-namespace")
	bindFlag(cmd, "dispatch.workers", "dispatch-workers")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runBatch(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	awsSession, err := session.NewSession(&aws.Config{
		Region:     aws.String(appConfig.AWSRegion),
		HTTPClient: &http.Client{Timeout: appConfig.CallTimeout},
	})
	if err != nil {
		return err
	}

	taskQueue, err := queue.NewClient(sqs.New(awsSession), appConfig.QueueURL, appConfig.BatchSize, logger)
	if err != nil {
		return err
	}

	snapshots, err := blob.NewStore(s3.New(awsSession), appConfig.BucketName)
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         appConfig.RedisAddr,
		Password:     appConfig.RedisPass,
		DB:           appConfig.RedisDB,
		DialTimeout:  appConfig.CallTimeout,
		ReadTimeout:  appConfig.CallTimeout,
		WriteTimeout: appConfig.CallTimeout,
	})
	defer redisClient.Close()

	locks, err := locker.NewCoordinator(redisClient, appConfig.LockNS)
	if err != nil {
		return err
	}

	authStore, err := authstore.NewClient(appConfig.AuthDBDSN)
	if err != nil {
		return err
	}
	defer authStore.Close()

	applier, err := userdb.NewApplier(userdb.ApplierConfig{
		Rows:   authStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	taskWorker, err := worker.New(worker.Config{
		Locks:      locks,
		Snapshots:  snapshots,
		Applier:    applier,
		Queue:      taskQueue,
		Logger:     logger,
		LockTTL:    appConfig.LockTTL,
		RetryDelay: appConfig.RetryDelay,
	})
	if err != nil {
		return err
	}

	dispatcher, err := scheduler.New(scheduler.Config{
		Queue:      taskQueue,
		Locks:      locks,
		Worker:     taskWorker,
		Logger:     logger,
		RetryDelay: appConfig.RetryDelay,
		Workers:    appConfig.Workers,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := dispatcher.Run(signalCtx)
	if err != nil {
		return err
	}

	fmt.Println(result.Outcome)
	return nil
}
