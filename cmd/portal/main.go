package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"portal/internal/config"
	"portal/internal/gateway"
	"portal/internal/ratelimit"
	"portal/internal/txerror"
	"portal/internal/validation"
	"portal/pkg/models"
)

var (
	configFile string
	verbose    bool

	// 提交/更新表单参数
	appName        string
	appDescription string
	appURL         string
	logoURL        string
	category       string
	chainID        uint64
	screenshots    []string

	// 审核参数
	rejectReason string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal",
		Short: "应用市场门户命令行工具",
		Long:  `面向链上应用注册表的门户命令行工具，支持应用的提交、更新、审核与查询`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "提交新应用",
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&appName, "name", "", "应用名称")
	submitCmd.Flags().StringVar(&appDescription, "description", "", "应用描述")
	submitCmd.Flags().StringVar(&appURL, "app-url", "", "应用地址")
	submitCmd.Flags().StringVar(&logoURL, "logo-url", "", "Logo地址")
	submitCmd.Flags().StringVar(&category, "category", "", "应用分类")
	submitCmd.Flags().Uint64Var(&chainID, "chain-id", 0, "目标链ID，0表示使用配置中的链")
	submitCmd.Flags().StringSliceVar(&screenshots, "screenshot", nil, "截图地址，可重复指定")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "列出全部应用",
		RunE:  runList,
	}

	getCmd := &cobra.Command{
		Use:   "get <app-id>",
		Short: "查看单个应用",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	approveCmd := &cobra.Command{
		Use:   "approve <app-id>",
		Short: "审核通过应用",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <app-id>",
		Short: "审核拒绝应用",
		Args:  cobra.ExactArgs(1),
		RunE:  runReject,
	}
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "拒绝原因")

	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "估算提交费用",
		RunE:  runEstimate,
	}
	estimateCmd.Flags().StringVar(&appName, "name", "", "应用名称")
	estimateCmd.Flags().StringVar(&appDescription, "description", "", "应用描述")
	estimateCmd.Flags().StringVar(&appURL, "app-url", "", "应用地址")
	estimateCmd.Flags().StringVar(&logoURL, "logo-url", "", "Logo地址")
	estimateCmd.Flags().StringVar(&category, "category", "", "应用分类")
	estimateCmd.Flags().Uint64Var(&chainID, "chain-id", 0, "目标链ID")

	rootCmd.AddCommand(submitCmd, listCmd, getCmd, approveCmd, rejectCmd, estimateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// buildGateway 从配置构建网关
func buildGateway() (*gateway.Gateway, *gateway.EthLedger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	ledger, err := gateway.NewEthLedger(context.Background(), cfg.Chain, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化账本客户端失败: %w", err)
	}

	gw := gateway.NewGateway(
		ledger,
		validation.NewValidator(logger, cfg.Chain.ChainID),
		ratelimit.NewStore(logger),
		txerror.NewClassifier(cfg.Chain.ChainID),
		nil,
		logger,
		&gateway.Options{ReadWorkers: cfg.Server.ReadConcurrency},
	)

	if chainID == 0 {
		chainID = cfg.Chain.ChainID
	}

	return gw, ledger, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	form := &models.AppForm{
		Name:        appName,
		Description: appDescription,
		AppURL:      appURL,
		LogoURL:     logoURL,
		Category:    category,
		ChainID:     chainID,
		Screenshots: screenshots,
	}

	result := gw.SubmitApp(cmd.Context(), ledger.SenderAddress(), form)
	return printResult(result)
}

func runList(cmd *cobra.Command, args []string) error {
	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	apps, err := gw.GetAllApps(cmd.Context())
	if err != nil {
		return fmt.Errorf("读取应用列表失败: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\t名称\t分类\t状态\t上架\t开发者")
	for _, app := range apps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
			app.ID, app.Name, app.Category, app.ReviewState, app.Active, app.Developer)
	}
	return w.Flush()
}

func runGet(cmd *cobra.Command, args []string) error {
	appID, err := parseAppID(args[0])
	if err != nil {
		return err
	}

	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	app, err := gw.GetApp(cmd.Context(), appID)
	if err != nil {
		return fmt.Errorf("读取应用失败: %w", err)
	}

	fmt.Printf("ID:       %d\n", app.ID)
	fmt.Printf("名称:     %s\n", app.Name)
	fmt.Printf("描述:     %s\n", app.Description)
	fmt.Printf("地址:     %s\n", app.AppURL)
	fmt.Printf("分类:     %s\n", app.Category)
	fmt.Printf("链ID:     %d\n", app.ChainID)
	fmt.Printf("开发者:   %s\n", app.Developer)
	fmt.Printf("审核状态: %s\n", app.ReviewState)
	fmt.Printf("上架:     %t\n", app.Active)
	fmt.Printf("创建时间: %s\n", app.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	appID, err := parseAppID(args[0])
	if err != nil {
		return err
	}

	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	result := gw.ApproveApp(cmd.Context(), ledger.SenderAddress(), appID)
	return printResult(result)
}

func runReject(cmd *cobra.Command, args []string) error {
	appID, err := parseAppID(args[0])
	if err != nil {
		return err
	}

	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	result := gw.RejectApp(cmd.Context(), ledger.SenderAddress(), &models.ReviewDecision{
		AppID:  appID,
		Reason: rejectReason,
	})
	return printResult(result)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	gw, ledger, err := buildGateway()
	if err != nil {
		return err
	}
	defer ledger.Close()

	form := &models.AppForm{
		Name:        appName,
		Description: appDescription,
		AppURL:      appURL,
		LogoURL:     logoURL,
		Category:    category,
		ChainID:     chainID,
	}

	cost, err := gw.EstimateSubmitCost(cmd.Context(), form)
	if err != nil {
		return fmt.Errorf("费用估算失败: %w", err)
	}

	fmt.Printf("预估费用: %s wei\n", cost.String())
	return nil
}

// parseAppID 解析命令行中的应用ID
func parseAppID(arg string) (uint64, error) {
	var appID uint64
	if _, err := fmt.Sscanf(arg, "%d", &appID); err != nil || appID == 0 {
		return 0, fmt.Errorf("应用ID无效: %s", arg)
	}
	return appID, nil
}

// printResult 输出动作结果
func printResult(result *gateway.ActionResult) error {
	if result.Ok {
		fmt.Printf("操作成功，交易哈希: %s\n", result.Hash)
		if result.AppID > 0 {
			fmt.Printf("应用ID: %d\n", result.AppID)
		}
		return nil
	}

	for field, msg := range result.FieldErrors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", field, msg)
	}
	return fmt.Errorf("%s", result.Message)
}
