package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mystocks/internal/broker"
)

const (
	epQuote       = "/uapi/domestic-stock/v1/quotations/inquire-price"
	epBalance     = "/uapi/domestic-stock/v1/trading/inquire-balance"
	epOrderCash   = "/uapi/domestic-stock/v1/trading/order-cash"
	epOrderStatus = "/uapi/domestic-stock/v1/trading/inquire-daily-ccld"
	epOrderCancel = "/uapi/domestic-stock/v1/trading/order-rvsecncl"
	epFluctuation = "/uapi/domestic-stock/v1/ranking/fluctuation"
)

func padCode(code string) string {
	if len(code) >= 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}

// checkRT enforces the KIS application-level result code. rt_cd "0" is
// success regardless of msg contents.
func checkRT(op string, res gjson.Result) error {
	if rt := res.Get("rt_cd").String(); rt != "" && rt != "0" {
		return broker.Faultf(broker.FaultRejected, op,
			"rt_cd %s (%s): %s", rt, res.Get("msg_cd").String(), strings.TrimSpace(res.Get("msg1").String()))
	}
	return nil
}

// GetQuote fetches the live price snapshot for code. The same endpoint
// carries market cap (hts_avls, in eokwon), so one call serves both the
// signal loop and the universe screen.
func (c *Client) GetQuote(ctx context.Context, code string) (broker.Quote, error) {
	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "J")
	params.Set("fid_input_iscd", padCode(code))

	res, err := c.call(ctx, http.MethodGet, epQuote, "FHKST01010100", params, nil)
	if err != nil {
		return broker.Quote{}, err
	}
	if err := checkRT("quote", res); err != nil {
		return broker.Quote{}, err
	}
	out := res.Get("output")
	if !out.Exists() || out.Get("stck_prpr").String() == "" {
		return broker.Quote{}, broker.Faultf(broker.FaultStaleData, "quote", "empty output for %s", code)
	}
	return broker.Quote{
		Code:       padCode(code),
		Price:      out.Get("stck_prpr").Float(),
		Open:       out.Get("stck_oprc").Float(),
		High:       out.Get("stck_hgpr").Float(),
		Low:        out.Get("stck_lwpr").Float(),
		PrevClose:  out.Get("stck_sdpr").Float(),
		ChangeRate: out.Get("prdy_ctrt").Float(),
		Volume:     out.Get("acml_vol").Int(),
		Ask:        out.Get("askp1").Float(),
		Bid:        out.Get("bidp1").Float(),
		MarketCap:  parseCommaFloat(out.Get("hts_avls").String()),
	}, nil
}

func parseCommaFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// GetBalance fetches held instruments and account totals.
func (c *Client) GetBalance(ctx context.Context) (broker.Balance, error) {
	params := url.Values{}
	params.Set("CANO", c.cano)
	params.Set("ACNT_PRDT_CD", c.prdt)
	params.Set("AFHR_FLPR_YN", "N")
	params.Set("OFL_YN", "")
	params.Set("INQR_DVSN", "02")
	params.Set("UNPR_DVSN", "01")
	params.Set("FUND_STTL_ICLD_YN", "N")
	params.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	params.Set("PRCS_DVSN", "00")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	res, err := c.call(ctx, http.MethodGet, epBalance, c.trID("TTTC8434R"), params, nil)
	if err != nil {
		return broker.Balance{}, err
	}
	if err := checkRT("balance", res); err != nil {
		return broker.Balance{}, err
	}

	bal := broker.Balance{Holdings: map[string]broker.Holding{}}
	res.Get("output1").ForEach(func(_, item gjson.Result) bool {
		code := item.Get("pdno").String()
		if code == "" {
			return true
		}
		bal.Holdings[code] = broker.Holding{
			Name:         item.Get("prdt_name").String(),
			Quantity:     int(item.Get("hldg_qty").Int()),
			AvgPrice:     item.Get("pchs_avg_pric").Float(),
			CurrentPrice: item.Get("prpr").Float(),
			Pnl:          item.Get("evlu_pfls_amt").Float(),
			PnlRate:      item.Get("evlu_pfls_rt").Float(),
		}
		return true
	})
	summary := res.Get("output2.0")
	bal.TotalAsset = summary.Get("tot_evlu_amt").Float()
	bal.AvailableCash = summary.Get("dnca_tot_amt").Float()
	return bal, nil
}

// PlaceOrder submits a cash order. Price 0 becomes a market order (ORD_DVSN
// 01), anything else a limit order (00).
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if req.Quantity <= 0 {
		return broker.OrderAck{}, broker.Faultf(broker.FaultValidation, "order", "quantity %d", req.Quantity)
	}
	ordDvsn := "00"
	if req.Price == 0 {
		ordDvsn = "01"
	}
	body := map[string]string{
		"CANO":         c.cano,
		"ACNT_PRDT_CD": c.prdt,
		"PDNO":         padCode(req.Code),
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      fmt.Sprintf("%d", req.Quantity),
		"ORD_UNPR":     fmt.Sprintf("%d", int(req.Price)),
	}
	base := "TTTC0802U"
	if req.Side == broker.Sell {
		base = "TTTC0801U"
	}
	res, err := c.call(ctx, http.MethodPost, epOrderCash, c.trID(base), nil, body)
	if err != nil {
		// A transport failure after the request left us means the order may
		// or may not exist broker-side.
		if broker.IsTransient(err) {
			return broker.OrderAck{}, broker.NewFault(broker.FaultAmbiguous, "order", err)
		}
		return broker.OrderAck{}, err
	}
	if err := checkRT("order", res); err != nil {
		return broker.OrderAck{}, err
	}
	orderID := res.Get("output.ODNO").String()
	if orderID == "" {
		return broker.OrderAck{}, broker.Faultf(broker.FaultAmbiguous, "order", "accepted without ODNO")
	}
	return broker.OrderAck{OrderID: orderID, At: time.Now()}, nil
}

// GetOrderStatus looks up today's executions for orderID.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	today := time.Now().Format("20060102")
	params := url.Values{}
	params.Set("CANO", c.cano)
	params.Set("ACNT_PRDT_CD", c.prdt)
	params.Set("INQR_STRT_DT", today)
	params.Set("INQR_END_DT", today)
	params.Set("SLL_BUY_DVSN_CD", "00")
	params.Set("INQR_DVSN", "00")
	params.Set("PDNO", "")
	params.Set("CCLD_DVSN", "00")
	params.Set("ORD_GNO_BRNO", "")
	params.Set("ODNO", orderID)
	params.Set("INQR_DVSN_3", "00")
	params.Set("INQR_DVSN_1", "")
	params.Set("CTX_AREA_FK100", "")
	params.Set("CTX_AREA_NK100", "")

	res, err := c.call(ctx, http.MethodGet, epOrderStatus, c.trID("TTTC8001R"), params, nil)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	if err := checkRT("order_status", res); err != nil {
		return broker.OrderStatus{}, err
	}

	var status broker.OrderStatus
	found := false
	res.Get("output1").ForEach(func(_, item gjson.Result) bool {
		if item.Get("odno").String() != orderID {
			return true
		}
		status = broker.OrderStatus{
			OrderID:      orderID,
			Code:         item.Get("pdno").String(),
			OrderQty:     int(item.Get("ord_qty").Int()),
			FilledQty:    int(item.Get("tot_ccld_qty").Int()),
			RemainingQty: int(item.Get("rmn_qty").Int()),
			AvgFillPrice: item.Get("avg_prvs").Float(),
		}
		found = true
		return false
	})
	if !found {
		return broker.OrderStatus{}, broker.Faultf(broker.FaultStaleData, "order_status",
			"order %s not in today's executions", orderID)
	}
	return status, nil
}

// CancelOrder cancels the full remaining quantity of orderID. A broker
// refusal is reported as ambiguous: the usual cause is that the order filled
// while the cancel was in flight, and only a status re-query can tell.
func (c *Client) CancelOrder(ctx context.Context, orderID, code string, quantity int) error {
	if orderID == "" {
		return broker.Faultf(broker.FaultValidation, "cancel", "empty order id")
	}
	body := map[string]string{
		"CANO":               c.cano,
		"ACNT_PRDT_CD":       c.prdt,
		"KRX_FWDG_ORD_ORGNO": "",
		"ORGN_ODNO":          orderID,
		"ORD_DVSN":           "00",
		"RVSE_CNCL_DVSN_CD":  "02",
		"ORD_QTY":            fmt.Sprintf("%d", quantity),
		"ORD_UNPR":           "0",
		"QTY_ALL_ORD_YN":     "Y",
	}
	res, err := c.call(ctx, http.MethodPost, epOrderCancel, c.trID("TTTC0803U"), nil, body)
	if err != nil {
		if broker.IsTransient(err) {
			return broker.NewFault(broker.FaultAmbiguous, "cancel", err)
		}
		return err
	}
	if rt := res.Get("rt_cd").String(); rt != "" && rt != "0" {
		return broker.Faultf(broker.FaultAmbiguous, "cancel",
			"rt_cd %s: %s", rt, strings.TrimSpace(res.Get("msg1").String()))
	}
	return nil
}

// RankedStock is one row of the daily fluctuation ranking.
type RankedStock struct {
	Code       string
	Name       string
	Price      float64
	ChangeRate float64
	Volume     int64
}

// FluctuationRanking fetches the top gainers list used to seed the universe
// screen when no local bar data exists for the target date.
func (c *Client) FluctuationRanking(ctx context.Context) ([]RankedStock, error) {
	params := url.Values{}
	params.Set("fid_cond_mrkt_div_code", "J")
	params.Set("fid_cond_scr_div_code", "20171")
	params.Set("fid_input_iscd", "0000")
	params.Set("fid_rank_sort_cls_code", "0")
	params.Set("fid_input_cnt_1", "0")
	params.Set("fid_prc_cls_code", "1")
	params.Set("fid_input_price_1", "")
	params.Set("fid_input_price_2", "")
	params.Set("fid_vol_cnt", "")
	params.Set("fid_trgt_cls_code", "0")
	params.Set("fid_trgt_exls_cls_code", "0")
	params.Set("fid_div_cls_code", "0")
	params.Set("fid_rsfl_cls_code", "1")

	res, err := c.call(ctx, http.MethodGet, epFluctuation, "FHPST01700000", params, nil)
	if err != nil {
		return nil, err
	}
	if err := checkRT("fluctuation", res); err != nil {
		return nil, err
	}
	var out []RankedStock
	res.Get("output").ForEach(func(_, item gjson.Result) bool {
		code := item.Get("stck_shrn_iscd").String()
		if code == "" {
			return true
		}
		out = append(out, RankedStock{
			Code:       code,
			Name:       item.Get("hts_kor_isnm").String(),
			Price:      item.Get("stck_prpr").Float(),
			ChangeRate: item.Get("prdy_ctrt").Float(),
			Volume:     item.Get("acml_vol").Int(),
		})
		return true
	})
	return out, nil
}

var _ broker.Broker = (*Client)(nil)
