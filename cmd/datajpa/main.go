/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tomoncle/datajpa/config"
	"github.com/tomoncle/datajpa/database"
	"github.com/tomoncle/datajpa/dto"
	"github.com/tomoncle/datajpa/entity"
	"github.com/tomoncle/datajpa/internal/app"
	"github.com/tomoncle/datajpa/orm"
	"github.com/tomoncle/datajpa/repository"
	"github.com/tomoncle/datajpa/types"
	"github.com/tomoncle/datajpa/utils"
)

func main() {
	// stdout carries command output
	utils.ConfigureConsoleOutput(os.Stderr)

	var (
		configFile = utils.EnvDefaultString("DATAJPA_CONFIG", "configs/config.yaml")
		envFile    = utils.EnvDefaultString("DATAJPA_ENV_FILE", ".env")
		actor      string
	)

	load := func() (*config.AppConfig, error) {
		return config.Load(config.Options{File: configFile, EnvFile: envFile})
	}
	open := func(ctx context.Context, migrate bool) (*app.App, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, migrate)
	}
	actorCtx := func(ctx context.Context) context.Context {
		if actor == "" {
			return ctx
		}
		return orm.WithActor(ctx, actor)
	}

	root := &cobra.Command{
		Use:           "datajpa",
		Short:         "Member and team repository toolbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", configFile, "YAML config file (env DATAJPA_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", envFile, "dotenv file, ignored when missing (env DATAJPA_ENV_FILE)")
	root.PersistentFlags().StringVar(&actor, "actor", "", "actor recorded by auditing")

	var rollback string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and foreign keys, or roll back one migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), rollback == "")
			if err != nil {
				return err
			}
			defer a.Close()
			if rollback != "" {
				return database.GetDatabaseFactory().Migrator().RollbackMigration(cmd.Context(), rollback)
			}
			applied, err := database.GetDatabaseFactory().Migrator().GetAppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", m.Version, m.Name, m.AppliedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	migrateCmd.Flags().StringVar(&rollback, "rollback", "", "version of the migration to roll back")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Run the SQL seed files of the configured environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			return database.InitData(cmd.Context())
		},
	}

	var (
		age, pageIndex, pageSize int
		sortExpr                 string
	)
	pageCmd := &cobra.Command{
		Use:   "page",
		Short: "Print one page of members of the given age",
		RunE: func(cmd *cobra.Command, args []string) error {
			pageable, err := types.NewPageRequest(pageIndex, pageSize, types.ParseSort(sortExpr))
			if err != nil {
				return err
			}
			a, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			var page *types.Page[dto.MemberDto]
			err = a.Sessions.InTransaction(cmd.Context(), func(ctx context.Context, s *orm.Session) error {
				members, err := repository.NewMemberRepository(s).FindByAge(ctx, age, pageable)
				if err != nil {
					return err
				}
				page = types.MapPage(members, dto.NewMemberDto)
				return nil
			})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tTEAM")
			for _, m := range page.Content {
				fmt.Fprintf(w, "%d\t%s\t%s\n", m.ID, m.Username, m.TeamName)
			}
			fmt.Fprintf(w, "page %d/%d, %d total\n", page.Number+1, page.TotalPages(), page.TotalElements)
			return w.Flush()
		},
	}
	pageCmd.Flags().IntVar(&age, "age", 10, "member age")
	pageCmd.Flags().IntVar(&pageIndex, "page", 0, "zero-based page index")
	pageCmd.Flags().IntVar(&pageSize, "size", 3, "page size")
	pageCmd.Flags().StringVar(&sortExpr, "sort", "username,desc", "orders as property[,asc|desc] separated by ';'")

	var from int
	bumpCmd := &cobra.Command{
		Use:   "bump-age",
		Short: "Add one year to every member at least --from years old",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			var n int64
			err = a.Sessions.InTransaction(actorCtx(cmd.Context()), func(ctx context.Context, s *orm.Session) error {
				n, err = repository.NewMemberRepository(s).BulkAgePlus(ctx, from)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d members updated\n", n)
			return nil
		},
	}
	bumpCmd.Flags().IntVar(&from, "from", 20, "minimum age")

	var (
		newName string
		newAge  int
		newTeam string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a member, optionally in a team created on demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			if newName == "" {
				return errors.New("--username is required")
			}
			a, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			var m *entity.Member
			err = a.Sessions.InTransaction(actorCtx(cmd.Context()), func(ctx context.Context, s *orm.Session) error {
				var team *entity.Team
				if newTeam != "" {
					teams := repository.NewTeamRepository(s)
					found, err := teams.FindByName(ctx, newTeam)
					if err != nil {
						return err
					}
					if len(found) > 0 {
						team = found[0]
					} else if team, err = teams.Save(ctx, entity.NewTeam(newTeam)); err != nil {
						return err
					}
				}
				m, err = repository.NewMemberRepository(s).Save(ctx, entity.NewMember(newName, newAge, team))
				return err
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}
	addCmd.Flags().StringVar(&newName, "username", "", "username")
	addCmd.Flags().IntVar(&newAge, "age", 0, "age")
	addCmd.Flags().StringVar(&newTeam, "team", "", "team name")

	membersCmd := &cobra.Command{Use: "members", Short: "Member queries and bulk updates"}
	membersCmd.AddCommand(pageCmd, bumpCmd, addCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			status := database.GetHealthStatus(cmd.Context())
			report := struct {
				*database.HealthStatus
				Pool *database.DBStats `json:"pool"`
			}{status, database.GetDatabaseStats()}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !status.Healthy {
				return fmt.Errorf("database unhealthy: %s", status.LastError)
			}
			return nil
		},
	}

	var addr string
	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve Prometheus metrics on /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.RegisterMetrics(nil); err != nil {
				return err
			}
			a, err := open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	metricsCmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")

	root.AddCommand(migrateCmd, seedCmd, membersCmd, healthCmd, metricsCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
