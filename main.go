package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/QingMing-Bot/nlssh/internal/agent"
	"github.com/QingMing-Bot/nlssh/internal/cli"
	"github.com/QingMing-Bot/nlssh/internal/intent"
	"github.com/QingMing-Bot/nlssh/internal/repository"
	"github.com/QingMing-Bot/nlssh/internal/service"
	"github.com/QingMing-Bot/nlssh/internal/ssh"
	"github.com/QingMing-Bot/nlssh/pkg/config"
	"github.com/QingMing-Bot/nlssh/pkg/vault"
)

func main() {
	cfg := config.Load()
	db, err := sql.Open("sqlite", cfg.DBPath())
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	repo := repository.NewMachineRepo(db)
	if err := repo.EnsureSchema(); err != nil {
		log.Fatal(err)
	}
	hRepo := repository.NewHistoryRepo(db)
	if err := hRepo.EnsureSchema(); err != nil {
		log.Fatal(err)
	}
	hWriter := service.NewHistoryWriter(hRepo, cfg.HistoryFlushInterval, cfg.HistoryBatchSize)
	defer hWriter.Close()
	if cfg.HistoryRetentionDays > 0 || cfg.HistoryMaxRows > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				_ = hRepo.Cleanup(cfg.HistoryRetentionDays, cfg.HistoryMaxRows)
			}
		}()
	}

	masterKey := cfg.MasterKey()
	if masterKey == "" {
		log.Println("warning: NLSSH_MASTER_KEY not set; credential operations will fail")
	}
	v := vault.New(masterKey)

	intents, err := intent.LoadFileOrDefault(cfg.IntentTablePath)
	if err != nil {
		log.Fatal(err)
	}
	resolver := intent.NewResolver(intents)

	execSvc := service.NewExecService(repo, v, ssh.NewDialer(), hWriter, time.Duration(cfg.CommandTimeoutSec)*time.Second)
	a := agent.New(repo, hRepo, v, resolver, execSvc)

	root := cli.NewRootCmd(a)
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.SetFlags(0)
		log.Println("error:", err)
		os.Exit(1)
	}
}
